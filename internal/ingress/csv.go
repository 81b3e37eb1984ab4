package ingress

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cleanBytes strips a UTF-8 byte order mark, which Excel adds to every CSV it
// saves, and replaces invalid UTF-8 with '?'.
func cleanBytes(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	return bytes.ToValidUTF8(data, []byte("?"))
}

// NormalizeCell trims a raw value and upper-cases it so that codes compare
// consistently. Empty values become null.
func NormalizeCell(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return datastore.Null
	}
	return datastore.Text(strings.ToUpper(s))
}

// readRecords parses CSV bytes into a header and data rows. Ragged rows are
// tolerated; short rows read as null in the missing columns.
func readRecords(data []byte) ([]string, [][]string, error) {
	r := csv.NewReader(bytes.NewReader(cleanBytes(data)))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("%w: empty file", ErrMalformedFile)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformedFile, err)
		}
		if isBlank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return header, rows, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// ParseCSV reads one CSV extract and identifies its table by column set.
// Derived columns present in the file are dropped; Read and datastore.Create
// compute them again.
func ParseCSV(name string, data []byte) (*datastore.Table, error) {
	header, rows, err := readRecords(data)
	if err != nil {
		return nil, uploadErr(name, err)
	}

	seen := make(map[string]bool, len(header))
	var dups []string
	for _, h := range header {
		if seen[h] {
			dups = append(dups, h)
		}
		seen[h] = true
	}
	if len(dups) > 0 {
		return nil, uploadErr(name, fmt.Errorf("%w: duplicate columns", ErrMalformedFile), dups...)
	}

	schema, err := Match(slices.DeleteFunc(slices.Clone(header), derivedColumn))
	if err != nil {
		var ue *UploadError
		if errors.As(err, &ue) {
			ue.File = name
		}
		return nil, err
	}

	// Columns are stored in catalog order, whatever order the file used.
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[h] = i
	}
	t := datastore.NewTable(schema.Table, schema.Columns)
	for _, rec := range rows {
		cells := make([]pgtype.Text, len(schema.Columns))
		for j, col := range schema.Columns {
			if p := pos[col]; p < len(rec) {
				cells[j] = NormalizeCell(rec[p])
			}
		}
		t.AppendRow(cells)
	}
	return t, nil
}

// WriteCSV exports a table in its column order, derived columns included.
// Nulls are written as empty fields, so reading the export back through Read
// and datastore.Create reproduces t's cells.
func WriteCSV(w io.Writer, t *datastore.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Records()); err != nil {
		return err
	}
	return cw.Error()
}
