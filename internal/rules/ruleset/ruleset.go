// Package ruleset registers the SSDA903 validation rules by collection year.
//
// Importing the package makes the "2023" and "2024" rulesets available
// through rules.Ruleset. Each year starts from the previous year's rules and
// adds its own.
package ruleset

import (
	"time"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

// Latest is the newest registered ruleset.
const Latest = "2024"

// New2023 returns the 2023 ruleset.
func New2023() *rules.Registry {
	r := rules.NewRegistry("2023")
	for _, rule := range []rules.Rule{
		rule101, rule102, rule103,
		rule207, rule392c, rule1001, rule1015,
		integrityRule("INT01", datastore.OC2),
		integrityRule("INT02", datastore.OC3),
		integrityRule("INT03", datastore.AD1),
	} {
		r.Register(rule)
	}
	return r
}

// New2024 returns the 2024 ruleset: every 2023 rule plus social worker checks.
func New2024() *rules.Registry {
	r := New2023().Extend("2024")
	r.Register(ruleSW01)
	return r
}

func init() {
	rules.AddRegistry(New2023())
	rules.AddRegistry(New2024())
}

// strictDate parses a cell in the return's mandated dd/mm/yyyy layout only.
func strictDate(t *datastore.Table, col string, row int) (time.Time, bool) {
	v := t.Value(col, row)
	if !v.Valid {
		return time.Time{}, false
	}
	d, err := time.Parse(datastore.DateLayout, v.String)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

// childIDs returns the set of non-null CHILD values of a table.
func childIDs(t *datastore.Table) map[string]bool {
	ids := make(map[string]bool, t.Len())
	for i := 0; i < t.Len(); i++ {
		if c := t.Str("CHILD", i); c != "" {
			ids[c] = true
		}
	}
	return ids
}

// mustTable returns a table the rule declared in Tables.
func mustTable(ds *datastore.Datastore, name string) *datastore.Table {
	t, _ := ds.Table(name)
	return t
}
