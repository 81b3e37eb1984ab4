package datastore

import "strings"

// ProviderInfo is the table name of the normalised provider lookup.
const ProviderInfo = "provider_info"

// Provider-info columns.
const (
	ProviderURNCol    = "URN"
	PlaceCodesCol     = "PLACE_CODES"
	CloseDateCol      = "CLOSE_DATE"
	ProviderPostCol   = "POSTCODE"
	InferredLACodeCol = "LA_CODE_INFERRED"
	InferredLANameCol = "LA_NAME_INFERRED"
)

// ProviderColumns is the column order of the provider-info table.
var ProviderColumns = []string{
	ProviderURNCol, PlaceCodesCol, CloseDateCol, ProviderPostCol, InferredLACodeCol, InferredLANameCol,
}

// Provider is one row of the provider-info table.
type Provider struct {
	URN        string
	PlaceCodes []string
	CloseDate  string
	Postcode   string
	LACode     string
}

// Providers indexes a provider-info table by URN.
func Providers(t *Table) map[string]Provider {
	out := make(map[string]Provider, t.Len())
	for i := 0; i < t.Len(); i++ {
		urn := t.Str(ProviderURNCol, i)
		if urn == "" {
			continue
		}
		var codes []string
		if s := t.Str(PlaceCodesCol, i); s != "" {
			codes = strings.Split(s, ",")
		}
		out[urn] = Provider{
			URN:        urn,
			PlaceCodes: codes,
			CloseDate:  t.Str(CloseDateCol, i),
			Postcode:   t.Str(ProviderPostCol, i),
			LACode:     t.Str(InferredLACodeCol, i),
		}
	}
	return out
}
