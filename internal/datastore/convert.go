package datastore

// convert.go turns the text cells of a return into typed values.
//
// Returns are produced by many case-management systems, so dates arrive in
// several layouts. Day-first layouts are tried before ISO because the
// collection guidance mandates dd/mm/yyyy; anything that does not parse is
// reported as invalid and left for the rules to flag.

import (
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// DateLayout is the canonical date layout of the return.
const DateLayout = "02/01/2006"

var dateLayouts = []string{
	DateLayout,
	"2/1/2006",
	"2006-01-02",
	"2006/01/02",
	"02-01-2006",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
}

// ParseDate converts a cell to pgtype.Date. Returns invalid for empty or
// unparseable input.
func ParseDate(s string) pgtype.Date {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Date{Valid: false}
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return pgtype.Date{Time: t, Valid: true}
		}
	}
	return pgtype.Date{Valid: false}
}

// FormatDate renders t in the canonical layout.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizePostcode removes whitespace and upper-cases a postcode so that
// "ab1 0jd", "AB1 0JD" and "AB10JD" compare equal.
func NormalizePostcode(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}
