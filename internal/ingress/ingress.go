// Package ingress turns uploaded return files into canonical tables.
//
// An upload is a set of named byte buffers, each tagged with a [Role]. Data
// files are either a set of CSV extracts or one XML document per year; the
// two formats are reconciled into the same tables, named as in package
// datastore. Optional provider lookups are normalised into a single
// provider-info table.
//
// Every failure is reported as an [*UploadError] before any rule runs.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"golang.org/x/sync/errgroup"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// Role says what an uploaded file is.
type Role string

const (
	RoleThisYear  Role = "this year"
	RolePriorYear Role = "prior year"
	RoleCHLookup  Role = "CH lookup"
	RoleSCPLookup Role = "SCP lookup"
)

// ParseRole accepts the canonical role names case-insensitively, with
// underscores or hyphens in place of spaces.
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(s)))
	switch norm {
	case "this year", "current year":
		return RoleThisYear, nil
	case "prior year", "last year", "previous year":
		return RolePriorYear, nil
	case "ch lookup":
		return RoleCHLookup, nil
	case "scp lookup":
		return RoleSCPLookup, nil
	}
	return "", uploadErr("", fmt.Errorf("%w: %q", ErrUnknownRole, s))
}

func (r Role) isData() bool { return r == RoleThisYear || r == RolePriorYear }

// File is one uploaded buffer.
type File struct {
	Name string
	Role Role
	Data []byte
}

func (f File) ext() string { return strings.ToLower(filepath.Ext(f.Name)) }

// Options tunes ingestion.
type Options struct {
	// Postcodes resolves provider postcodes to an inferred authority. May be nil.
	Postcodes *datastore.PostcodeIndex
	Logger    *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Upload is the result of ingestion.
type Upload struct {
	Tables       map[string]*datastore.Table
	FileFormat   string
	ProviderInfo *datastore.Table
}

// Read classifies files by role, parses the data files and any lookups.
func Read(ctx context.Context, files []File, opts Options) (*Upload, error) {
	var data, lookups []File
	for _, f := range files {
		if f.Role.isData() {
			data = append(data, f)
		} else {
			lookups = append(lookups, f)
		}
	}
	if len(data) == 0 {
		return nil, uploadErr("", ErrNoFiles)
	}

	ext := data[0].ext()
	for _, f := range data[1:] {
		if f.ext() != ext {
			return nil, uploadErr(f.Name, ErrMixedExtensions)
		}
	}

	up := &Upload{}
	var err error
	switch ext {
	case ".csv":
		up.FileFormat = datastore.FormatCSV
		up.Tables, err = readCSVSet(ctx, data)
	case ".xml":
		up.FileFormat = datastore.FormatXML
		up.Tables, err = readXMLSet(data, opts.logger())
	default:
		return nil, uploadErr(data[0].Name, fmt.Errorf("%w: %q", ErrUnsupportedFile, ext))
	}
	if err != nil {
		return nil, err
	}

	for _, suffix := range []string{"", datastore.PriorSuffix} {
		header, okH := up.Tables[datastore.Header+suffix]
		uasc, okU := up.Tables[datastore.UASC+suffix]
		if okH && okU {
			if err := addUASCFlag(header, uasc); err != nil {
				return nil, err
			}
		}
	}

	if len(lookups) > 0 {
		up.ProviderInfo, err = ReadLookups(lookups, opts.Postcodes)
		if err != nil {
			return nil, err
		}
	}

	opts.logger().Debug("ingested upload",
		"format", up.FileFormat,
		"tables", len(up.Tables),
		"provider_info", up.ProviderInfo != nil,
	)
	return up, nil
}

// tableName returns the datastore name of a table for a data role.
func tableName(table string, role Role) string {
	if role == RolePriorYear {
		return datastore.Prior(table)
	}
	return table
}

// readCSVSet parses every CSV concurrently and merges the results in input
// order, so the outcome never depends on scheduling.
func readCSVSet(ctx context.Context, files []File) (map[string]*datastore.Table, error) {
	parsed := make([]*datastore.Table, len(files))

	g, _ := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			t, err := ParseCSV(f.Name, f.Data)
			if err != nil {
				return err
			}
			parsed[i] = t.Rename(tableName(t.Name(), f.Role))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tables := make(map[string]*datastore.Table, len(parsed))
	for i, t := range parsed {
		if _, dup := tables[t.Name()]; dup {
			return nil, uploadErr(files[i].Name, fmt.Errorf("%w: %s", ErrDuplicateTable, t.Name()))
		}
		tables[t.Name()] = t
	}
	return tables, nil
}

// UASCColumn is the roster column derived from the UASC file.
const UASCColumn = "UASC"

// addUASCFlag adds a UASC column to the roster: "1" where the child appears
// in the UASC file, "0" otherwise.
func addUASCFlag(header, uasc *datastore.Table) error {
	ids := make(map[string]struct{}, uasc.Len())
	for i := 0; i < uasc.Len(); i++ {
		if v := uasc.Value("CHILD", i); v.Valid {
			ids[v.String] = struct{}{}
		}
	}
	flags := make([]pgtype.Text, header.Len())
	for i := range flags {
		flags[i] = datastore.Text("0")
		if v := header.Value("CHILD", i); v.Valid {
			if _, ok := ids[v.String]; ok {
				flags[i] = datastore.Text("1")
			}
		}
	}
	if err := header.AddColumn(UASCColumn, flags); err != nil {
		return fmt.Errorf("add UASC flag: %w", err)
	}
	return nil
}
