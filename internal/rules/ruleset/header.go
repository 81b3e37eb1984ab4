package ruleset

import (
	"context"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/rules"
)

var validSex = map[string]bool{"1": true, "2": true}

var validEthnicity = map[string]bool{
	"WBRI": true, "WIRI": true, "WOTH": true, "WIRT": true, "WROM": true,
	"MWBC": true, "MWBA": true, "MWAS": true, "MOTH": true,
	"AIND": true, "APKN": true, "ABAN": true, "AOTH": true,
	"BCRB": true, "BAFR": true, "BOTH": true,
	"CHNE": true, "OOTH": true, "REFU": true, "NOBT": true,
}

// headerCodeRule flags roster rows whose col is missing or not in valid.
func headerCodeRule(col string, valid map[string]bool) rules.Func {
	return func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		h := mustTable(ds, datastore.Header)
		res := rules.Result{}
		res.Add(datastore.Header)
		for i := 0; i < h.Len(); i++ {
			if !valid[h.Str(col, i)] {
				res.Add(datastore.Header, i)
			}
		}
		return res, nil
	}
}

var rule101 = rules.Rule{
	Code:           "101",
	Message:        "Gender code is not valid.",
	AffectedFields: []string{"SEX"},
	Tables:         []string{datastore.Header},
	Func:           headerCodeRule("SEX", validSex),
}

var rule103 = rules.Rule{
	Code:           "103",
	Message:        "The ethnicity code is either not valid or has not been entered.",
	AffectedFields: []string{"ETHNIC"},
	Tables:         []string{datastore.Header},
	Func:           headerCodeRule("ETHNIC", validEthnicity),
}

var rule102 = rules.Rule{
	Code:           "102",
	Message:        "Date of birth is not a valid date or is after the end of the collection year.",
	AffectedFields: []string{"DOB"},
	Tables:         []string{datastore.Header},
	Func: func(ctx context.Context, ds *datastore.Datastore) (rules.Result, error) {
		h := mustTable(ds, datastore.Header)
		end := ds.Meta.CollectionEnd
		res := rules.Result{}
		res.Add(datastore.Header)
		for i := 0; i < h.Len(); i++ {
			dob, ok := strictDate(h, "DOB", i)
			if !ok || dob.After(end) {
				res.Add(datastore.Header, i)
			}
		}
		return res, nil
	},
}
