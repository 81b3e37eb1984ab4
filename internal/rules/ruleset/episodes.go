package ruleset

import (
	"context"
	"slices"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

var rule392c = rules.Rule{
	Code:           "392c",
	Message:        "Postcode(s) provided are invalid.",
	AffectedFields: []string{datastore.HomePostCol, datastore.PlacePostCol},
	Tables:         []string{datastore.Episodes},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		ref, err := ds.Meta.RequirePostcodes()
		if err != nil {
			return nil, err
		}
		idx := datastore.NewPostcodeIndex(ref)
		eps := mustTable(ds, datastore.Episodes)

		unresolved := func(col string, row int) bool {
			v := eps.Value(col, row)
			if !v.Valid {
				return false
			}
			_, ok := idx.Lookup(v.String)
			return !ok
		}

		res := rules.Result{}
		res.Add(datastore.Episodes)
		for i := 0; i < eps.Len(); i++ {
			if unresolved(datastore.HomePostCol, i) || unresolved(datastore.PlacePostCol, i) {
				res.Add(datastore.Episodes, i)
			}
		}
		return res, nil
	},
}

var rule1001 = rules.Rule{
	Code:           "1001",
	Message:        "The episode starts before the previous episode for this child has ended.",
	AffectedFields: []string{"DECOM", "DEC"},
	Tables:         []string{datastore.Episodes},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		eps := mustTable(ds, datastore.Episodes)

		dated := eps.Filter(func(i int) bool {
			_, ok := eps.Date("DECOM", i)
			return ok && !eps.IsNull("CHILD", i)
		})
		sorted := dated.Sort(func(a, b int) bool {
			ca, cb := dated.Str("CHILD", a), dated.Str("CHILD", b)
			if ca != cb {
				return ca < cb
			}
			da, _ := dated.Date("DECOM", a)
			db, _ := dated.Date("DECOM", b)
			return da.Before(db)
		})

		res := rules.Result{}
		res.Add(datastore.Episodes)
		for i := 1; i < sorted.Len(); i++ {
			if sorted.Str("CHILD", i) != sorted.Str("CHILD", i-1) {
				continue
			}
			start, _ := sorted.Date("DECOM", i)
			prevEnd, ended := sorted.Date("DEC", i-1)
			if !ended || start.Before(prevEnd) {
				res.Add(datastore.Episodes, sorted.Origin(i))
			}
		}
		slices.Sort(res[datastore.Episodes])
		return res, nil
	},
}

var rule1015 = rules.Rule{
	Code:           "1015",
	Message:        "Placement type is not one the provider is registered to offer.",
	AffectedFields: []string{"PLACE", "URN"},
	Tables:         []string{datastore.Episodes},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		info, err := ds.Meta.RequireProviderInfo()
		if err != nil {
			return nil, err
		}
		providers := datastore.Providers(info)
		eps := mustTable(ds, datastore.Episodes)

		res := rules.Result{}
		res.Add(datastore.Episodes)
		for i := 0; i < eps.Len(); i++ {
			p, ok := providers[eps.Str("URN", i)]
			if !ok || len(p.PlaceCodes) == 0 {
				continue
			}
			if place := eps.Str("PLACE", i); place != "" && !slices.Contains(p.PlaceCodes, place) {
				res.Add(datastore.Episodes, i)
			}
		}
		return res, nil
	},
}

// rule207 checks that an episode still open at the end of last year carries
// into this year's return with the same start date.
var rule207 = rules.Rule{
	Code:           "207",
	Message:        "An episode open at the end of last year is missing from, or starts differently in, this year's return.",
	AffectedFields: []string{"DECOM"},
	Tables:         []string{datastore.Episodes, datastore.Prior(datastore.Episodes)},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		eps := mustTable(ds, datastore.Episodes)
		last := mustTable(ds, datastore.Prior(datastore.Episodes))

		current := rules.FirstLastEpisodes(eps, rules.EpisodeOptions{SkipShortTerm: true})
		prior := rules.FirstLastEpisodes(last, rules.EpisodeOptions{})

		res := rules.Result{}
		res.Add(datastore.Episodes)
		res.Add(datastore.Prior(datastore.Episodes))
		for child, pb := range prior {
			if !last.IsNull("DEC", pb.Last) {
				continue
			}
			cb, ok := current[child]
			if !ok {
				res.Add(datastore.Prior(datastore.Episodes), pb.Last)
				continue
			}
			if eps.Str("DECOM", cb.First) != last.Str("DECOM", pb.Last) {
				res.Add(datastore.Episodes, cb.First)
			}
		}
		for _, t := range []string{datastore.Episodes, datastore.Prior(datastore.Episodes)} {
			slices.Sort(res[t])
		}
		return res, nil
	},
}
