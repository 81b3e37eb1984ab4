package ruleset

import (
	"context"
	"fmt"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

// integrityRule flags rows of a dependent table whose child has no roster row.
func integrityRule(code, table string) rules.Rule {
	return rules.Rule{
		Code:           code,
		Message:        fmt.Sprintf("Child is in %s but not in the Header.", table),
		AffectedFields: []string{"CHILD"},
		Tables:         []string{datastore.Header, table},
		Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
			known := childIDs(mustTable(ds, datastore.Header))
			dep := mustTable(ds, table)

			res := rules.Result{}
			res.Add(table)
			for i := 0; i < dep.Len(); i++ {
				if !known[dep.Str("CHILD", i)] {
					res.Add(table, i)
				}
			}
			return res, nil
		},
	}
}
