// Package report flattens validation results into summary, detail and
// outcome sections, and renders them for download or export.
package report

import (
	"sort"
	"strings"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/validator"
)

// SummaryRow is one rule that flagged at least one row.
type SummaryRow struct {
	Code           string   `json:"code"`
	Count          int      `json:"count"`
	Message        string   `json:"message"`
	AffectedFields []string `json:"affected_fields"`
}

// DetailRow is one flagged (table, row, rule).
type DetailRow struct {
	Table          string            `json:"table"`
	RowID          int               `json:"row_id"`
	ChildID        string            `json:"child_id"`
	Code           string            `json:"code"`
	Message        string            `json:"message"`
	AffectedFields []string          `json:"affected_fields"`
	Values         map[string]string `json:"values"`
}

// OutcomeRow is the run status of one rule.
type OutcomeRow struct {
	Code       string           `json:"code"`
	Status     validator.Status `json:"status"`
	Error      string           `json:"error,omitempty"`
	Flagged    int              `json:"flagged"`
	DurationMS int64            `json:"duration_ms"`
}

// Report is the flattened result of one run.
type Report struct {
	Ruleset  string       `json:"ruleset"`
	Summary  []SummaryRow `json:"summary"`
	Detail   []DetailRow  `json:"detail"`
	Outcomes []OutcomeRow `json:"outcomes"`
}

// Build walks every ERR_<code> flag column of every results table and joins
// the rule metadata from reg. Flags for codes reg does not know are reported
// with an empty message.
func Build(res *validator.Results, reg *rules.Registry) *Report {
	rep := &Report{Ruleset: res.Ruleset}
	counts := make(map[string]int)

	for _, name := range res.Store.Names() {
		t, _ := res.Store.Table(name)
		for _, col := range t.FlagColumns() {
			code := strings.TrimPrefix(col, datastore.FlagPrefix)
			rule, _ := reg.Get(code)
			for _, row := range t.Flagged(col) {
				rep.Detail = append(rep.Detail, DetailRow{
					Table:          name,
					RowID:          row,
					ChildID:        t.Str("CHILD", row),
					Code:           code,
					Message:        rule.Message,
					AffectedFields: rule.AffectedFields,
					Values:         values(t, row, rule.AffectedFields),
				})
				counts[code]++
			}
		}
	}

	for code, n := range counts {
		rule, _ := reg.Get(code)
		rep.Summary = append(rep.Summary, SummaryRow{
			Code:           code,
			Count:          n,
			Message:        rule.Message,
			AffectedFields: rule.AffectedFields,
		})
	}
	sort.Slice(rep.Summary, func(i, j int) bool { return rules.CodeLess(rep.Summary[i].Code, rep.Summary[j].Code) })

	for _, o := range res.Outcomes {
		row := OutcomeRow{Code: o.Code, Status: o.Status, DurationMS: o.Duration.Milliseconds()}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		for _, n := range o.Flagged {
			row.Flagged += n
		}
		rep.Outcomes = append(rep.Outcomes, row)
	}
	return rep
}

// values returns the affected fields present in t for one row. CHILD is
// always included when the table has it.
func values(t *datastore.Table, row int, fields []string) map[string]string {
	out := make(map[string]string, len(fields)+1)
	if t.HasColumn("CHILD") {
		out["CHILD"] = t.Str("CHILD", row)
	}
	for _, f := range fields {
		if t.HasColumn(f) {
			out[f] = t.Str(f, row)
		}
	}
	return out
}

// ByChild groups detail rows by child id, keeping report order within each
// child. Rows without a child id are grouped under "".
func (r *Report) ByChild() map[string][]DetailRow {
	out := make(map[string][]DetailRow)
	for _, d := range r.Detail {
		out[d.ChildID] = append(out[d.ChildID], d)
	}
	return out
}

// ChildIDs returns the distinct child ids in the detail, sorted.
func (r *Report) ChildIDs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range r.Detail {
		if !seen[d.ChildID] {
			seen[d.ChildID] = true
			out = append(out, d.ChildID)
		}
	}
	sort.Strings(out)
	return out
}

// Failed returns the outcomes of rules that could not run.
func (r *Report) Failed() []OutcomeRow {
	var out []OutcomeRow
	for _, o := range r.Outcomes {
		if o.Status == validator.Failed {
			out = append(out, o)
		}
	}
	return out
}
