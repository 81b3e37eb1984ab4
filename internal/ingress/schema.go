package ingress

// schema.go holds the catalog of known return files.
//
// Files are recognised by their header alone: the set of column names must
// equal exactly one schema's set. Order does not matter and file names are
// never consulted, since local authorities name their extracts freely.

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// Schema describes one canonical table.
type Schema struct {
	Table   string
	Columns []string
	// XMLTag is the sub-node tag carrying rows of this table in an XML
	// return. The roster table has no tag.
	XMLTag string
}

func (s Schema) key() string {
	return columnKey(s.Columns)
}

func columnKey(cols []string) string {
	sorted := slices.Clone(cols)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

var (
	catalog   []Schema
	catalogMu sync.RWMutex
)

// Register adds a schema to the catalog.
// Panics if the table is already registered or its column set collides with
// another schema, since either would make matching ambiguous.
func Register(s Schema) {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	for _, existing := range catalog {
		if existing.Table == s.Table {
			panic(fmt.Sprintf("schema already registered: %s", s.Table))
		}
		if existing.key() == s.key() {
			panic(fmt.Sprintf("schema %s has the same columns as %s", s.Table, existing.Table))
		}
	}
	catalog = append(catalog, s)
}

// Schemas returns the registered schemas in registration order.
func Schemas() []Schema {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return slices.Clone(catalog)
}

// Lookup returns the schema for a canonical table name.
func Lookup(table string) (Schema, bool) {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	for _, s := range catalog {
		if s.Table == table {
			return s, true
		}
	}
	return Schema{}, false
}

// derivedColumns are added to canonical tables after ingestion. They are
// ignored when matching so an exported table can be read back in.
var derivedColumns = map[string]bool{
	UASCColumn:            true,
	datastore.HomeLACol:   true,
	datastore.PlacementLA: true,
	datastore.LocationCol: true,
	datastore.DistanceCol: true,
}

func derivedColumn(col string) bool {
	return derivedColumns[col] || strings.HasPrefix(col, datastore.FlagPrefix)
}

// Match finds the schema whose column set equals cols.
func Match(cols []string) (Schema, error) {
	key := columnKey(cols)

	catalogMu.RLock()
	defer catalogMu.RUnlock()

	var found []Schema
	for _, s := range catalog {
		if s.key() == key {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return Schema{}, uploadErr("", ErrUnmatchedColumns, cols...)
	default:
		return Schema{}, uploadErr("", ErrAmbiguousColumns, cols...)
	}
}

func init() {
	Register(Schema{Table: datastore.Header, Columns: []string{"CHILD", "SEX", "DOB", "ETHNIC", "UPN", "MOTHER", "MC_DOB"}})
	Register(Schema{Table: datastore.Episodes, XMLTag: "EPISODE", Columns: []string{
		"CHILD", "DECOM", "RNE", "LS", "CIN", "PLACE", "PLACE_PROVIDER", "DEC", "REC",
		"REASON_PLACE_CHANGE", "HOME_POST", "PL_POST", "URN",
	}})
	Register(Schema{Table: datastore.Reviews, XMLTag: "REVIEW", Columns: []string{"CHILD", "DOB", "REVIEW", "REVIEW_CODE"}})
	Register(Schema{Table: datastore.UASC, XMLTag: "UASC", Columns: []string{"CHILD", "SEX", "DOB", "DUC"}})
	Register(Schema{Table: datastore.OC2, XMLTag: "OC2", Columns: []string{
		"CHILD", "DOB", "SDQ_SCORE", "SDQ_REASON", "CONVICTED", "HEALTH_CHECK", "IMMUNISATIONS",
		"TEETH_CHECK", "HEALTH_ASSESSMENT", "SUBSTANCE_MISUSE", "INTERVENTION_RECEIVED", "INTERVENTION_OFFERED",
	}})
	Register(Schema{Table: datastore.OC3, XMLTag: "OC3", Columns: []string{"CHILD", "DOB", "IN_TOUCH", "ACTIV", "ACCOM"}})
	Register(Schema{Table: datastore.AD1, XMLTag: "ADOPTION", Columns: []string{
		"CHILD", "DOB", "DATE_INT", "DATE_MATCH", "FOSTER_CARE", "NB_ADOPTR", "SEX_ADOPTR", "LS_ADOPTR",
	}})
	Register(Schema{Table: datastore.PlacedAdoption, XMLTag: "PLACED_ADOPTION", Columns: []string{
		"CHILD", "DOB", "DATE_PLACED", "DATE_PLACED_CEASED", "REASON_PLACED_CEASED",
	}})
	Register(Schema{Table: datastore.PrevPerm, XMLTag: "PREV_PERM", Columns: []string{"CHILD", "DOB", "PREV_PERM", "LA_PERM", "DATE_PERM"}})
	Register(Schema{Table: datastore.Missing, XMLTag: "MISSING", Columns: []string{"CHILD", "DOB", "MISSING", "MIS_START", "MIS_END"}})
	Register(Schema{Table: datastore.SWEpisodes, XMLTag: "SW_EPISODE", Columns: []string{"CHILD", "SW_ID", "SW_DECOM", "SW_DEC", "SW_REASON"}})
}
