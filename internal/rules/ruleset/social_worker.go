package ruleset

import (
	"context"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

var ruleSW01 = rules.Rule{
	Code:           "SW01",
	Message:        "Social worker episode ends before it starts, or has no valid start date.",
	AffectedFields: []string{"SW_ID", "SW_DECOM", "SW_DEC"},
	Tables:         []string{datastore.SWEpisodes},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		sw := mustTable(ds, datastore.SWEpisodes)
		res := rules.Result{}
		res.Add(datastore.SWEpisodes)
		for i := 0; i < sw.Len(); i++ {
			start, ok := strictDate(sw, "SW_DECOM", i)
			if !ok {
				res.Add(datastore.SWEpisodes, i)
				continue
			}
			if end, ok := strictDate(sw, "SW_DEC", i); ok && end.Before(start) {
				res.Add(datastore.SWEpisodes, i)
			}
		}
		return res, nil
	},
}
