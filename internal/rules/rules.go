// Package rules defines the validation rule contract and versioned rule
// registries.
//
// A rule receives its own copy of the datastore and reports the row
// positions it considers in error, keyed by table name. Rules never see
// another rule's writes and never write to the results; the validator does
// that.
package rules

import (
	"context"
	"errors"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

// Result maps table names to flagged row positions.
//
// An empty Result means the rule could not be evaluated, usually because a
// table or metadata item it needs is absent. A table present with no
// positions means the rule examined it and found nothing wrong.
type Result map[string][]int

// Add records positions for a table. Calling Add with no positions marks the
// table as examined.
func (r Result) Add(table string, rows ...int) {
	r[table] = append(r[table], rows...)
	if r[table] == nil {
		r[table] = []int{}
	}
}

// Evaluable reports whether the rule produced any table entry at all.
func (r Result) Evaluable() bool { return len(r) > 0 }

// Func evaluates a rule against an isolated datastore.
type Func func(ctx context.Context, ds *datastore.Datastore) (Result, error)

// Rule is one validation check.
type Rule struct {
	Code    string
	Message string
	// AffectedFields are the columns shown alongside a flagged row in reports.
	AffectedFields []string
	// Tables the rule cannot run without. When any is missing the rule is
	// skipped without calling Func.
	Tables []string
	Func   Func
}

// MissingMetadataError is returned by rules that need a metadata item the
// run was not given.
type MissingMetadataError = datastore.MissingMetadataError

// IsMissingMetadata reports whether err is or wraps a MissingMetadataError.
func IsMissingMetadata(err error) bool {
	var m *MissingMetadataError
	return errors.As(err, &m)
}

// Evaluate runs the rule against ds. A missing declared table yields an
// empty result.
func (r Rule) Evaluate(ctx context.Context, ds *datastore.Datastore) (Result, error) {
	if !ds.Has(r.Tables...) {
		return Result{}, nil
	}
	res, err := r.Func(ctx, ds)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = Result{}
	}
	return res, nil
}
