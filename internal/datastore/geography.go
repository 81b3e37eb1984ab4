package datastore

import (
	"fmt"
	"math"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// Postcode reference columns.
const (
	PostcodeCol  = "pcd"
	LACodeCol    = "laua"
	LANameCol    = "laua_name"
	EastingCol   = "oseast1m"
	NorthingCol  = "osnrth1m"
	metresInMile = 1609.34
)

// Derived episode columns.
const (
	HomeLACol    = "HOME_LA"
	PlacementLA  = "PL_LA"
	LocationCol  = "PL_LOCATION"
	DistanceCol  = "PL_DISTANCE"
	HomePostCol  = "HOME_POST"
	PlacePostCol = "PL_POST"
	LocationIn   = "IN"
	LocationOut  = "OUT"
)

// Place is one resolved postcode.
type Place struct {
	LACode   string
	LAName   string
	Easting  float64
	Northing float64
	hasGrid  bool
}

// PostcodeIndex resolves normalised postcodes to places.
type PostcodeIndex struct {
	places map[string]Place
}

// NewPostcodeIndex indexes a postcode reference table. Rows without a
// postcode are skipped; the first occurrence of a postcode wins.
func NewPostcodeIndex(ref *Table) *PostcodeIndex {
	idx := &PostcodeIndex{places: make(map[string]Place, ref.Len())}
	for i := 0; i < ref.Len(); i++ {
		pc := NormalizePostcode(ref.Str(PostcodeCol, i))
		if pc == "" {
			continue
		}
		if _, seen := idx.places[pc]; seen {
			continue
		}
		e, okE := ref.Float(EastingCol, i)
		n, okN := ref.Float(NorthingCol, i)
		idx.places[pc] = Place{
			LACode:   ref.Str(LACodeCol, i),
			LAName:   ref.Str(LANameCol, i),
			Easting:  e,
			Northing: n,
			hasGrid:  okE && okN,
		}
	}
	return idx
}

// Lookup resolves a raw postcode.
func (p *PostcodeIndex) Lookup(postcode string) (Place, bool) {
	if p == nil {
		return Place{}, false
	}
	pl, ok := p.places[NormalizePostcode(postcode)]
	return pl, ok
}

// Distance returns the planar distance in miles between two places, rounded
// to one decimal place.
func Distance(a, b Place) (float64, bool) {
	if !a.hasGrid || !b.hasGrid {
		return 0, false
	}
	d := math.Hypot(a.Easting-b.Easting, a.Northing-b.Northing) / metresInMile
	return math.Round(d*10) / 10, true
}

// DeriveGeography adds HOME_LA, PL_LA, PL_LOCATION and PL_DISTANCE to an
// episodes table. Unresolved postcodes leave the derived cells null, and
// PL_LOCATION stays null whenever the home authority is unknown.
func DeriveGeography(t *Table, idx *PostcodeIndex) error {
	n := t.Len()
	homeLA := make([]pgtype.Text, n)
	plLA := make([]pgtype.Text, n)
	location := make([]pgtype.Text, n)
	distance := make([]pgtype.Text, n)

	for i := 0; i < n; i++ {
		home, okHome := idx.Lookup(t.Str(HomePostCol, i))
		place, okPlace := idx.Lookup(t.Str(PlacePostCol, i))
		if okHome && home.LACode != "" {
			homeLA[i] = Text(home.LACode)
		}
		if okPlace && place.LACode != "" {
			plLA[i] = Text(place.LACode)
		}
		if homeLA[i].Valid {
			if homeLA[i] == plLA[i] {
				location[i] = Text(LocationIn)
			} else {
				location[i] = Text(LocationOut)
			}
		}
		if okHome && okPlace {
			if d, ok := Distance(home, place); ok {
				distance[i] = Text(strconv.FormatFloat(d, 'f', 1, 64))
			}
		}
	}

	derived := []struct {
		col  string
		vals []pgtype.Text
	}{
		{HomeLACol, homeLA},
		{PlacementLA, plLA},
		{LocationCol, location},
		{DistanceCol, distance},
	}
	for _, d := range derived {
		if err := t.AddColumn(d.col, d.vals); err != nil {
			return fmt.Errorf("add %s: %w", d.col, err)
		}
	}
	return nil
}
