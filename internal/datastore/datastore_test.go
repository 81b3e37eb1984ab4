package datastore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postcodeFixture() *Table {
	return FromRecords("postcodes", []string{PostcodeCol, LACodeCol, LANameCol, EastingCol, NorthingCol}, [][]string{
		{"AB1 0JD", "S12000033", "Aberdeen City", "385000", "801000"},
		{"AB10 1AN", "S12000033", "Aberdeen City", "394000", "806000"},
		{"AB51 0AA", "S12000034", "Aberdeenshire", "370000", "820000"},
	})
}

func TestCollectionWindow(t *testing.T) {
	start, end, err := CollectionWindow("2022/23")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, time.April, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2023, time.March, 31, 0, 0, 0, 0, time.UTC), end)

	_, _, err = CollectionWindow("22")
	assert.ErrorIs(t, err, ErrInvalidCollectionYear)
	_, _, err = CollectionWindow("abcd/ef")
	assert.ErrorIs(t, err, ErrInvalidCollectionYear)
}

func TestCreate_DerivesGeography(t *testing.T) {
	episodes := FromRecords(Episodes, []string{"CHILD", HomePostCol, PlacePostCol}, [][]string{
		{"101", "AB1 0JD", "ab10 1an"},
		{"102", "AB1 0JD", "AB51 0AA"},
		{"103", "XX9 9XX", "AB1 0JD"},
		{"104", "AB1 0JD", "NOT A POSTCODE"},
	})

	ds, err := Create(map[string]*Table{Episodes: episodes}, Metadata{
		CollectionYear: "2022/23",
		LocalAuthority: "E09000001",
		Postcodes:      postcodeFixture(),
	})
	require.NoError(t, err)

	eps, ok := ds.Table(Episodes)
	require.True(t, ok)

	assert.Equal(t, "S12000033", eps.Str(HomeLACol, 0))
	assert.Equal(t, "S12000033", eps.Str(PlacementLA, 0))
	assert.Equal(t, LocationIn, eps.Str(LocationCol, 0))
	assert.Equal(t, "6.4", eps.Str(DistanceCol, 0))

	assert.Equal(t, LocationOut, eps.Str(LocationCol, 1))
	assert.Equal(t, "S12000034", eps.Str(PlacementLA, 1))

	// Unresolved home postcode: no location, no distance.
	assert.True(t, eps.IsNull(HomeLACol, 2))
	assert.True(t, eps.IsNull(LocationCol, 2))
	assert.True(t, eps.IsNull(DistanceCol, 2))

	// Unresolved placement postcode: OUT, no distance.
	assert.True(t, eps.IsNull(PlacementLA, 3))
	assert.Equal(t, LocationOut, eps.Str(LocationCol, 3))
	assert.True(t, eps.IsNull(DistanceCol, 3))

	// The caller's table is untouched.
	assert.False(t, episodes.HasColumn(HomeLACol))
}

func TestCreate_WithoutPostcodesSkipsGeography(t *testing.T) {
	episodes := FromRecords(Episodes, []string{"CHILD", HomePostCol, PlacePostCol}, [][]string{{"101", "AB1 0JD", "AB1 0JD"}})
	ds, err := Create(map[string]*Table{Episodes: episodes}, Metadata{CollectionYear: "2023/24"})
	require.NoError(t, err)

	eps, _ := ds.Table(Episodes)
	assert.False(t, eps.HasColumn(HomeLACol))
	assert.Equal(t, 2023, ds.Meta.CollectionStart.Year())
}

func TestCreate_BadYear(t *testing.T) {
	_, err := Create(nil, Metadata{CollectionYear: ""})
	assert.ErrorIs(t, err, ErrInvalidCollectionYear)
}

func TestDatastore_CopyIsolation(t *testing.T) {
	header := FromRecords(Header, []string{"CHILD", "SEX"}, [][]string{{"101", "1"}})
	ds, err := Create(map[string]*Table{Header: header}, Metadata{
		CollectionYear: "2022/23",
		Postcodes:      postcodeFixture(),
	})
	require.NoError(t, err)

	cp := ds.Copy()
	h, _ := cp.Table(Header)
	require.NoError(t, h.Set("SEX", 0, Text("9")))
	require.NoError(t, cp.Meta.Postcodes.Set(LACodeCol, 0, Text("changed")))
	cp.Put(FromRecords(OC2, []string{"CHILD"}, nil))

	orig, _ := ds.Table(Header)
	assert.Equal(t, "1", orig.Str("SEX", 0))
	assert.Equal(t, "S12000033", ds.Meta.Postcodes.Str(LACodeCol, 0))
	assert.False(t, ds.Has(OC2))
	assert.True(t, cp.Has(Header, OC2))
	assert.Equal(t, []string{Header, OC2}, cp.Names())
}

func TestMetadata_Require(t *testing.T) {
	var m Metadata
	_, err := m.RequirePostcodes()

	var missing *MissingMetadataError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "postcodes", missing.Key)

	_, err = m.RequireLocalAuthority()
	assert.Error(t, err)
	_, err = m.RequireProviderInfo()
	assert.Error(t, err)
}
