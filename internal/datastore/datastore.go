// Package datastore holds the canonical tables and run metadata of one
// validation session.
//
// A Datastore is built once per run with [Create], which derives the
// collection window and the geographic placement fields. Every rule receives
// its own [Datastore.Copy]; copies share cell storage until written, so a
// rule may add helper columns or re-order rows without any other rule or the
// canonical datastore observing it.
package datastore

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Canonical table names.
const (
	Header         = "Header"
	Episodes       = "Episodes"
	Reviews        = "Reviews"
	UASC           = "UASC"
	OC2            = "OC2"
	OC3            = "OC3"
	AD1            = "AD1"
	PlacedAdoption = "PlacedAdoption"
	PrevPerm       = "PrevPerm"
	Missing        = "Missing"
	SWEpisodes     = "SWEpisodes"
)

// PriorSuffix marks the prior-year variant of a table.
const PriorSuffix = "_last"

// Prior returns the prior-year name of a table.
func Prior(name string) string { return name + PriorSuffix }

// episodeTables receive derived geographic columns.
var episodeTables = []string{Episodes, Prior(Episodes)}

// File formats recorded in the metadata.
const (
	FormatCSV = "csv"
	FormatXML = "xml"
)

// Metadata describes the run a datastore belongs to.
type Metadata struct {
	// CollectionYear as declared by the uploader, e.g. "2022/23". The first
	// four characters are the start year.
	CollectionYear  string
	CollectionStart time.Time
	CollectionEnd   time.Time
	LocalAuthority  string
	FileFormat      string

	// ProviderInfo is the normalised provider lookup, nil when not supplied.
	ProviderInfo *Table
	// Postcodes is the postcode reference, nil when not supplied.
	Postcodes *Table
}

// ErrInvalidCollectionYear is returned by Create for a year it cannot parse.
var ErrInvalidCollectionYear = errors.New("invalid collection year")

// MissingMetadataError reports that a rule needed a metadata key that was not
// supplied for this run.
type MissingMetadataError struct {
	Key string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("required metadata %q was not supplied", e.Key)
}

// RequireLocalAuthority returns the authority or a MissingMetadataError.
func (m Metadata) RequireLocalAuthority() (string, error) {
	if m.LocalAuthority == "" {
		return "", &MissingMetadataError{Key: "localAuthority"}
	}
	return m.LocalAuthority, nil
}

// RequireProviderInfo returns the provider table or a MissingMetadataError.
func (m Metadata) RequireProviderInfo() (*Table, error) {
	if m.ProviderInfo == nil {
		return nil, &MissingMetadataError{Key: "provider_info"}
	}
	return m.ProviderInfo, nil
}

// RequirePostcodes returns the postcode reference or a MissingMetadataError.
func (m Metadata) RequirePostcodes() (*Table, error) {
	if m.Postcodes == nil {
		return nil, &MissingMetadataError{Key: "postcodes"}
	}
	return m.Postcodes, nil
}

// CollectionWindow returns 1 April of the declared start year and 31 March
// of the following year.
func CollectionWindow(year string) (time.Time, time.Time, error) {
	if len(year) < 4 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCollectionYear, year)
	}
	y, err := strconv.Atoi(year[:4])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %q", ErrInvalidCollectionYear, year)
	}
	start := time.Date(y, time.April, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(y+1, time.March, 31, 0, 0, 0, 0, time.UTC)
	return start, end, nil
}

// Datastore maps table names to tables and carries the run metadata.
type Datastore struct {
	tables map[string]*Table
	Meta   Metadata
}

// Create builds the canonical datastore. Input tables are copied, the
// collection window is computed from meta.CollectionYear, and episode tables
// gain derived geographic columns when a postcode reference is present.
func Create(tables map[string]*Table, meta Metadata) (*Datastore, error) {
	start, end, err := CollectionWindow(meta.CollectionYear)
	if err != nil {
		return nil, err
	}
	meta.CollectionStart = start
	meta.CollectionEnd = end

	ds := &Datastore{tables: make(map[string]*Table, len(tables)), Meta: meta}
	for name, t := range tables {
		if t == nil {
			continue
		}
		ds.tables[name] = t.Rename(name)
	}
	if meta.ProviderInfo != nil {
		ds.Meta.ProviderInfo = meta.ProviderInfo.Copy()
	}

	if meta.Postcodes != nil {
		ds.Meta.Postcodes = meta.Postcodes.Copy()
		idx := NewPostcodeIndex(meta.Postcodes)
		for _, name := range episodeTables {
			if t, ok := ds.tables[name]; ok {
				if err := DeriveGeography(t, idx); err != nil {
					return nil, fmt.Errorf("derive geography for %s: %w", name, err)
				}
			}
		}
	}
	return ds, nil
}

// Table returns the named table.
func (d *Datastore) Table(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// Has reports whether every named table is present.
func (d *Datastore) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := d.tables[n]; !ok {
			return false
		}
	}
	return true
}

// Put adds or replaces a table in this datastore only.
func (d *Datastore) Put(t *Table) {
	d.tables[t.Name()] = t
}

// Names returns the table names, sorted.
func (d *Datastore) Names() []string {
	out := make([]string, 0, len(d.tables))
	for n := range d.tables {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Copy returns an isolated datastore. Writes to the copy, including writes
// to reference tables in its metadata, are never visible through d.
func (d *Datastore) Copy() *Datastore {
	out := &Datastore{tables: make(map[string]*Table, len(d.tables)), Meta: d.Meta}
	for n, t := range d.tables {
		out.tables[n] = t.Copy()
	}
	if d.Meta.ProviderInfo != nil {
		out.Meta.ProviderInfo = d.Meta.ProviderInfo.Copy()
	}
	if d.Meta.Postcodes != nil {
		out.Meta.Postcodes = d.Meta.Postcodes.Copy()
	}
	return out
}
