package ingress

// lookup.go normalises the optional provider lookups.
//
// Ofsted publishes two provider lists: children's homes and other social care
// providers. Authorities upload them either as one combined workbook holding
// both sheets or as two separate files. Either way the result is a single
// provider-info table keyed by URN.

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// Lookup sheet names.
const (
	SheetChildrensHomes = "Childrens_Homes"
	SheetSocialCare     = "Social_Care_Providers"
)

// Lookup columns.
const (
	lookupURN        = "URN"
	lookupPostcode   = "Setting postcode"
	lookupClosed     = "Date closed"
	lookupCodePrefix = "Placement code"
)

var roleSheet = map[Role]string{
	RoleCHLookup:  SheetChildrensHomes,
	RoleSCPLookup: SheetSocialCare,
}

// sheet is the rows of one lookup sheet, header first.
type sheet struct {
	file string
	name string
	rows [][]string
}

type providerRow struct {
	codes    map[string]struct{}
	closed   string
	postcode string
}

// ReadLookups reads one combined workbook or one file per lookup role and
// merges them into the provider-info table. idx may be nil, in which case
// the inferred authority columns are null.
func ReadLookups(files []File, idx *datastore.PostcodeIndex) (*datastore.Table, error) {
	var sheets []sheet
	switch len(files) {
	case 1:
		f := files[0]
		if f.ext() != ".xlsx" && f.ext() != ".xlsm" {
			return nil, uploadErr(f.Name, fmt.Errorf("%w: a single lookup must be a workbook holding both sheets", ErrLookupLayout))
		}
		all, err := readWorkbook(f, SheetChildrensHomes, SheetSocialCare)
		if err != nil {
			return nil, err
		}
		sheets = all
	case 2:
		if files[0].Role == files[1].Role {
			return nil, uploadErr(files[1].Name, fmt.Errorf("%w: two lookups must be one %s and one %s", ErrLookupLayout, RoleCHLookup, RoleSCPLookup))
		}
		for _, f := range files {
			want, ok := roleSheet[f.Role]
			if !ok {
				return nil, uploadErr(f.Name, fmt.Errorf("%w: %q", ErrUnknownRole, f.Role))
			}
			s, err := readLookupFile(f, want)
			if err != nil {
				return nil, err
			}
			sheets = append(sheets, s)
		}
	default:
		return nil, uploadErr("", fmt.Errorf("%w: got %d, want 1 or 2", ErrLookupCount, len(files)))
	}

	providers := make(map[string]*providerRow)
	for _, s := range sheets {
		if err := mergeSheet(providers, s); err != nil {
			return nil, err
		}
	}
	return providerTable(providers, idx), nil
}

// readLookupFile reads the sheet a role implies from a CSV or a workbook.
func readLookupFile(f File, want string) (sheet, error) {
	switch f.ext() {
	case ".csv":
		header, rows, err := readRecords(f.Data)
		if err != nil {
			return sheet{}, uploadErr(f.Name, err)
		}
		return sheet{file: f.Name, name: want, rows: append([][]string{header}, rows...)}, nil
	case ".xlsx", ".xlsm":
		sheets, err := readWorkbook(f, want)
		if err != nil {
			return sheet{}, err
		}
		return sheets[0], nil
	default:
		return sheet{}, uploadErr(f.Name, fmt.Errorf("%w: %q", ErrUnsupportedFile, f.ext()))
	}
}

// readWorkbook returns the named sheets of a workbook in the order asked.
func readWorkbook(f File, names ...string) ([]sheet, error) {
	wb, err := excelize.OpenReader(bytes.NewReader(f.Data))
	if err != nil {
		return nil, uploadErr(f.Name, fmt.Errorf("%w: %v", ErrMalformedFile, err))
	}
	defer wb.Close()

	present := wb.GetSheetList()
	var missing []string
	for _, n := range names {
		if !slices.Contains(present, n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, uploadErr(f.Name, fmt.Errorf("%w: sheets not found", ErrLookupMissingData), missing...)
	}

	out := make([]sheet, 0, len(names))
	for _, n := range names {
		rows, err := wb.GetRows(n, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, uploadErr(f.Name, fmt.Errorf("%w: sheet %s: %v", ErrMalformedFile, n, err))
		}
		out = append(out, sheet{file: f.Name, name: n, rows: rows})
	}
	return out, nil
}

// mergeSheet folds one sheet into providers. The header row must carry URN,
// postcode, closure date and at least one placement code column.
func mergeSheet(providers map[string]*providerRow, s sheet) error {
	if len(s.rows) == 0 {
		return uploadErr(s.file, fmt.Errorf("%w: sheet %s is empty", ErrLookupMissingData, s.name))
	}
	pos := make(map[string]int)
	var codeCols []int
	for i, h := range s.rows[0] {
		h = strings.TrimSpace(h)
		pos[h] = i
		if strings.HasPrefix(h, lookupCodePrefix) {
			codeCols = append(codeCols, i)
		}
	}
	var missing []string
	for _, want := range []string{lookupURN, lookupPostcode, lookupClosed} {
		if _, ok := pos[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(codeCols) == 0 {
		missing = append(missing, lookupCodePrefix+"*")
	}
	if len(missing) > 0 {
		return uploadErr(s.file, fmt.Errorf("%w: sheet %s", ErrLookupMissingData, s.name), missing...)
	}

	cell := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}
	for _, rec := range s.rows[1:] {
		urn := strings.ToUpper(cell(rec, pos[lookupURN]))
		if urn == "" {
			continue
		}
		p, ok := providers[urn]
		if !ok {
			p = &providerRow{codes: make(map[string]struct{})}
			providers[urn] = p
		}
		for _, c := range codeCols {
			if code := strings.ToUpper(cell(rec, c)); code != "" {
				p.codes[code] = struct{}{}
			}
		}
		if p.closed == "" {
			p.closed = lookupDate(cell(rec, pos[lookupClosed]))
		}
		if p.postcode == "" {
			p.postcode = strings.ToUpper(cell(rec, pos[lookupPostcode]))
		}
	}
	return nil
}

// lookupDate renders an Excel serial or a text date in the return's layout.
// Values that are neither are kept as given.
func lookupDate(v string) string {
	if v == "" {
		return ""
	}
	if serial, err := strconv.ParseFloat(v, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return datastore.FormatDate(t)
		}
	}
	if d := datastore.ParseDate(v); d.Valid {
		return datastore.FormatDate(d.Time)
	}
	return v
}

func providerTable(providers map[string]*providerRow, idx *datastore.PostcodeIndex) *datastore.Table {
	urns := make([]string, 0, len(providers))
	for u := range providers {
		urns = append(urns, u)
	}
	sort.Strings(urns)

	text := func(s string) pgtype.Text {
		if s == "" {
			return datastore.Null
		}
		return datastore.Text(s)
	}

	t := datastore.NewTable(datastore.ProviderInfo, datastore.ProviderColumns)
	for _, u := range urns {
		p := providers[u]
		codes := make([]string, 0, len(p.codes))
		for c := range p.codes {
			codes = append(codes, c)
		}
		sort.Strings(codes)

		var laCode, laName string
		if idx != nil {
			if place, ok := idx.Lookup(p.postcode); ok {
				laCode, laName = place.LACode, place.LAName
			}
		}
		t.AppendRow([]pgtype.Text{
			datastore.Text(u),
			text(strings.Join(codes, ",")),
			text(p.closed),
			text(p.postcode),
			text(laCode),
			text(laName),
		})
	}
	return t
}
