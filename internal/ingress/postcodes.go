package ingress

import (
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

var postcodeRequired = []string{datastore.PostcodeCol, datastore.LACodeCol, datastore.EastingCol, datastore.NorthingCol}

// LoadPostcodes reads the postcode reference CSV. Extra columns are ignored;
// laua_name is optional. Postcodes are normalised, other cells are kept as
// given apart from trimming.
func LoadPostcodes(r io.Reader) (*datastore.Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read postcodes: %w", err)
	}
	header, rows, err := readRecords(data)
	if err != nil {
		return nil, uploadErr("postcodes", err)
	}

	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(h)] = i
	}
	var missing []string
	for _, c := range postcodeRequired {
		if _, ok := pos[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, uploadErr("postcodes", ErrUnmatchedColumns, missing...)
	}

	cols := append(postcodeRequired[:len(postcodeRequired):len(postcodeRequired)], datastore.LANameCol)
	t := datastore.NewTable("postcodes", cols)
	for _, rec := range rows {
		cells := make([]pgtype.Text, len(cols))
		for j, c := range cols {
			p, ok := pos[c]
			if !ok || p >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[p])
			if c == datastore.PostcodeCol {
				v = datastore.NormalizePostcode(v)
			}
			if v != "" {
				cells[j] = datastore.Text(v)
			}
		}
		t.AppendRow(cells)
	}
	return t, nil
}
