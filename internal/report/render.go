package report

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatHTML = "html"
)

// ErrUnknownFormat is returned by Write for an unsupported format.
var ErrUnknownFormat = errors.New("unknown report format")

// Formats lists the supported formats.
func Formats() []string { return []string{FormatJSON, FormatCSV, FormatXLSX, FormatHTML} }

// ContentType returns the MIME type of a format.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatHTML:
		return "text/html; charset=utf-8"
	default:
		return "application/json"
	}
}

// Write renders the report in format.
func (r *Report) Write(w io.Writer, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatCSV:
		return r.writeCSV(w)
	case FormatXLSX:
		return r.writeXLSX(w)
	case FormatHTML:
		return r.writeHTML(w)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// section is one tabular part of the report.
type section struct {
	name   string
	header []string
	rows   [][]string
}

func (r *Report) sections() []section {
	summary := section{name: "Summary", header: []string{"Code", "Count", "Message", "Affected fields"}}
	for _, s := range r.Summary {
		summary.rows = append(summary.rows, []string{s.Code, strconv.Itoa(s.Count), s.Message, strings.Join(s.AffectedFields, ", ")})
	}

	detail := section{name: "Detail", header: []string{"Table", "Row", "Child", "Code", "Message", "Values"}}
	for _, d := range r.Detail {
		detail.rows = append(detail.rows, []string{
			d.Table, strconv.Itoa(d.RowID), d.ChildID, d.Code, d.Message, formatValues(d.Values),
		})
	}

	outcomes := section{name: "Outcomes", header: []string{"Code", "Status", "Flagged", "Duration (ms)", "Error"}}
	for _, o := range r.Outcomes {
		outcomes.rows = append(outcomes.rows, []string{
			o.Code, o.Status.String(), strconv.Itoa(o.Flagged), strconv.FormatInt(o.DurationMS, 10), o.Error,
		})
	}
	return []section{summary, detail, outcomes}
}

// formatValues renders a value map as "K=v; K=v" with keys sorted.
func formatValues(v map[string]string) string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + v[k]
	}
	return strings.Join(parts, "; ")
}

// writeCSV writes each section under a title row, separated by blank rows.
func (r *Report) writeCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	for i, s := range r.sections() {
		if i > 0 {
			if err := cw.Write([]string{""}); err != nil {
				return err
			}
		}
		if err := cw.Write([]string{s.name}); err != nil {
			return err
		}
		if err := cw.Write(s.header); err != nil {
			return err
		}
		if err := cw.WriteAll(s.rows); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writeXLSX writes one sheet per section.
func (r *Report) writeXLSX(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, s := range r.sections() {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), s.name); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return fmt.Errorf("add sheet %s: %w", s.name, err)
		}

		sw, err := f.NewStreamWriter(s.name)
		if err != nil {
			return fmt.Errorf("stream %s: %w", s.name, err)
		}
		if err := sw.SetRow("A1", cells(s.header)); err != nil {
			return err
		}
		for j, row := range s.rows {
			cell, err := excelize.CoordinatesToCellName(1, j+2)
			if err != nil {
				return err
			}
			if err := sw.SetRow(cell, cells(row)); err != nil {
				return err
			}
		}
		if err := sw.Flush(); err != nil {
			return fmt.Errorf("flush %s: %w", s.name, err)
		}
	}
	_, err := f.WriteTo(w)
	return err
}

func cells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
