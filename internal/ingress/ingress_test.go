package ingress

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/data-to-insight/csc-validator-be-903-sub000/internal/datastore"
)

const headerCSV = "\ufeffCHILD,SEX,DOB,ETHNIC,UPN,MOTHER,MC_DOB\n" +
	"101,1,01/06/2010,wbri,A123,,\n" +
	"102,2,15/09/2012,WBRI,,0,\n"

const uascCSV = "CHILD,SEX,DOB,DUC\n102,2,15/09/2012,15/09/2030\n"

func TestRead_NoDataFiles(t *testing.T) {
	_, err := Read(context.Background(), []File{{Name: "lookup.xlsx", Role: RoleCHLookup}}, Options{})
	assert.ErrorIs(t, err, ErrNoFiles)

	var ue *UploadError
	assert.True(t, errors.As(err, &ue))
}

func TestRead_MixedExtensions(t *testing.T) {
	_, err := Read(context.Background(), []File{
		{Name: "header.csv", Role: RoleThisYear, Data: []byte(headerCSV)},
		{Name: "return.xml", Role: RoleThisYear, Data: []byte("<Message/>")},
	}, Options{})
	assert.ErrorIs(t, err, ErrMixedExtensions)
}

func TestRead_UnsupportedExtension(t *testing.T) {
	_, err := Read(context.Background(), []File{{Name: "header.txt", Role: RoleThisYear}}, Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func TestRead_CSVSet(t *testing.T) {
	up, err := Read(context.Background(), []File{
		{Name: "a.csv", Role: RoleThisYear, Data: []byte(headerCSV)},
		{Name: "b.csv", Role: RoleThisYear, Data: []byte(uascCSV)},
		{Name: "c.csv", Role: RolePriorYear, Data: []byte(headerCSV)},
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, datastore.FormatCSV, up.FileFormat)
	assert.Nil(t, up.ProviderInfo)
	require.Contains(t, up.Tables, datastore.Header)
	require.Contains(t, up.Tables, datastore.Prior(datastore.Header))

	h := up.Tables[datastore.Header]
	assert.Equal(t, 2, h.Len())
	assert.Equal(t, "WBRI", h.Str("ETHNIC", 0))
	assert.True(t, h.IsNull("UPN", 1))
	assert.Equal(t, "0", h.Str("UASC", 0))
	assert.Equal(t, "1", h.Str("UASC", 1))

	// No UASC file for the prior year, so no flag.
	assert.False(t, up.Tables[datastore.Prior(datastore.Header)].HasColumn("UASC"))
}

func TestRead_DuplicateTable(t *testing.T) {
	_, err := Read(context.Background(), []File{
		{Name: "a.csv", Role: RoleThisYear, Data: []byte(headerCSV)},
		{Name: "b.csv", Role: RoleThisYear, Data: []byte(headerCSV)},
	}, Options{})
	assert.ErrorIs(t, err, ErrDuplicateTable)
}

func TestParseCSV_UnmatchedColumns(t *testing.T) {
	_, err := ParseCSV("odd.csv", []byte("CHILD,SEX,SHOE_SIZE\n1,1,9\n"))
	require.ErrorIs(t, err, ErrUnmatchedColumns)

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "odd.csv", ue.File)
	assert.Equal(t, []string{"CHILD", "SEX", "SHOE_SIZE"}, ue.Columns)
}

func TestParseCSV_DuplicateHeader(t *testing.T) {
	_, err := ParseCSV("dup.csv", []byte("CHILD,CHILD\n1,1\n"))
	assert.ErrorIs(t, err, ErrMalformedFile)
}

func TestParseCSV_ColumnOrderIndependent(t *testing.T) {
	tbl, err := ParseCSV("oc3.csv", []byte("ACCOM,CHILD,DOB,IN_TOUCH,ACTIV\nt,101,01/01/2005,yes,f2\n\n"))
	require.NoError(t, err)
	assert.Equal(t, datastore.OC3, tbl.Name())
	assert.Equal(t, []string{"CHILD", "DOB", "IN_TOUCH", "ACTIV", "ACCOM"}, tbl.Columns())
	assert.Equal(t, 1, tbl.Len())
	assert.Equal(t, "T", tbl.Str("ACCOM", 0))
	assert.Equal(t, "F2", tbl.Str("ACTIV", 0))
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	orig, err := ParseCSV("header.csv", []byte(headerCSV))
	require.NoError(t, err)

	var b strings.Builder
	require.NoError(t, WriteCSV(&b, orig))

	again, err := ParseCSV("again.csv", []byte(b.String()))
	require.NoError(t, err)
	assert.Equal(t, orig.Records(), again.Records())
	assert.True(t, again.IsNull("MOTHER", 0))
}

const episodesCSV = "CHILD,DECOM,RNE,LS,CIN,PLACE,PLACE_PROVIDER,DEC,REC,REASON_PLACE_CHANGE,HOME_POST,PL_POST,URN\n" +
	"101,01/05/2022,S,C2,N1,U1,PR1,,,,AB1 0JD,ab1 0jd,SC123\n" +
	"102,01/07/2022,P,C2,N2,U3,PR2,01/09/2022,E3,CARPL,XX9 9XX,AB1 0JD,\n"

func TestWriteCSV_RoundTripDerivedTables(t *testing.T) {
	ref, err := LoadPostcodes(strings.NewReader("pcd,laua,oseast1m,osnrth1m\nAB1 0JD,S12000033,385000,801000\n"))
	require.NoError(t, err)

	ingest := func(files []File) *datastore.Datastore {
		t.Helper()
		up, err := Read(context.Background(), files, Options{})
		require.NoError(t, err)
		ds, err := datastore.Create(up.Tables, datastore.Metadata{CollectionYear: "2022/23", Postcodes: ref})
		require.NoError(t, err)
		return ds
	}

	first := ingest([]File{
		{Name: "header.csv", Role: RoleThisYear, Data: []byte(headerCSV)},
		{Name: "uasc.csv", Role: RoleThisYear, Data: []byte(uascCSV)},
		{Name: "episodes.csv", Role: RoleThisYear, Data: []byte(episodesCSV)},
	})
	h, _ := first.Table(datastore.Header)
	require.True(t, h.HasColumn(UASCColumn))
	eps, _ := first.Table(datastore.Episodes)
	require.True(t, eps.HasColumn(datastore.DistanceCol))

	var exported []File
	for _, name := range first.Names() {
		tbl, _ := first.Table(name)
		var b strings.Builder
		require.NoError(t, WriteCSV(&b, tbl))
		exported = append(exported, File{Name: name + ".csv", Role: RoleThisYear, Data: []byte(b.String())})
	}

	second := ingest(exported)
	require.Equal(t, first.Names(), second.Names())
	for _, name := range first.Names() {
		a, _ := first.Table(name)
		b, _ := second.Table(name)
		assert.Equal(t, a.Columns(), b.Columns(), name)
		assert.Equal(t, a.Records(), b.Records(), name)
	}
}

func TestParseCSV_IgnoresDerivedColumns(t *testing.T) {
	tbl, err := ParseCSV("flagged.csv", []byte("CHILD,SEX,DOB,ETHNIC,UPN,MOTHER,MC_DOB,UASC,ERR_101\n101,1,01/06/2010,WBRI,,,1,\n"))
	require.NoError(t, err)
	assert.Equal(t, datastore.Header, tbl.Name())
	assert.False(t, tbl.HasColumn(UASCColumn))
	assert.False(t, tbl.HasColumn("ERR_101"))
}

const returnXML = `<?xml version="1.0" encoding="utf-8"?>
<Message>
  <Header><CollectionDetails><Collection>SSDA903</Collection><Year>2023</Year></CollectionDetails></Header>
  <Children>
  <Child>
    <CHILD>101</CHILD><SEX>1</SEX><DOB>01/06/2010</DOB><ETHNIC>WBRI</ETHNIC>
    <EPISODES>
      <EPISODE><DECOM>01/05/2022</DECOM><RNE>S</RNE><PLACE>U1</PLACE><PLACE_PROV>PR1</PLACE_PROV></EPISODE>
      <EPISODE><DECOM>01/07/2022</DECOM><RNE>P</RNE><PLACE>U3</PLACE></EPISODE>
    </EPISODES>
    <REVIEW><REVIEW_DATE>01/08/2022</REVIEW_DATE><REVIEW_CODE>PN1</REVIEW_CODE></REVIEW>
    <SW_EPISODE><SW_ID>SW9</SW_ID><SW_DECOM>01/05/2022</SW_DECOM></SW_EPISODE>
    <FUTURE_NODE><X>1</X></FUTURE_NODE>
  </Child>
  <Child>
    <SEX>2</SEX>
    <MISSING><MISSING>M</MISSING><MIS_START>02/02/2023</MIS_START></MISSING>
  </Child>
  </Children>
</Message>`

func TestRead_XML(t *testing.T) {
	up, err := Read(context.Background(), []File{{Name: "return.xml", Role: RoleThisYear, Data: []byte(returnXML)}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, datastore.FormatXML, up.FileFormat)

	// Every catalog table exists, even when empty.
	for _, s := range Schemas() {
		assert.Contains(t, up.Tables, s.Table)
	}
	assert.Equal(t, 0, up.Tables[datastore.OC2].Len())

	h := up.Tables[datastore.Header]
	require.Equal(t, 2, h.Len())
	assert.Equal(t, "101", h.Str("CHILD", 0))
	assert.True(t, h.IsNull("CHILD", 1))

	eps := up.Tables[datastore.Episodes]
	require.Equal(t, 2, eps.Len())
	assert.Equal(t, "101", eps.Str("CHILD", 0))
	assert.Equal(t, "PR1", eps.Str("PLACE_PROVIDER", 0))
	assert.Equal(t, "U3", eps.Str("PLACE", 1))

	rev := up.Tables[datastore.Reviews]
	require.Equal(t, 1, rev.Len())
	assert.Equal(t, "01/08/2022", rev.Str("REVIEW", 0))
	assert.Equal(t, "01/06/2010", rev.Str("DOB", 0))

	sw := up.Tables[datastore.SWEpisodes]
	require.Equal(t, 1, sw.Len())
	assert.Equal(t, "SW9", sw.Str("SW_ID", 0))

	miss := up.Tables[datastore.Missing]
	require.Equal(t, 1, miss.Len())
	assert.True(t, miss.IsNull("CHILD", 0))
	assert.Equal(t, "M", miss.Str("MISSING", 0))
}

func TestRead_XMLTwoPerYear(t *testing.T) {
	_, err := Read(context.Background(), []File{
		{Name: "a.xml", Role: RoleThisYear, Data: []byte(returnXML)},
		{Name: "b.xml", Role: RoleThisYear, Data: []byte(returnXML)},
	}, Options{})
	assert.ErrorIs(t, err, ErrDuplicateTable)
}

func TestRead_XMLMalformed(t *testing.T) {
	_, err := Read(context.Background(), []File{{Name: "a.xml", Role: RoleThisYear, Data: []byte("")}}, Options{})
	assert.ErrorIs(t, err, ErrMalformedFile)
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("This_Year")
	require.NoError(t, err)
	assert.Equal(t, RoleThisYear, r)

	r, err = ParseRole("scp-lookup")
	require.NoError(t, err)
	assert.Equal(t, RoleSCPLookup, r)

	_, err = ParseRole("next year")
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func workbook(t *testing.T, sheets map[string][][]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for name, rows := range sheets {
		_, err := f.NewSheet(name)
		require.NoError(t, err)
		for i, r := range rows {
			cell, err := excelize.CoordinatesToCellName(1, i+1)
			require.NoError(t, err)
			row := r
			require.NoError(t, f.SetSheetRow(name, cell, &row))
		}
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func postcodeIndex(t *testing.T) *datastore.PostcodeIndex {
	t.Helper()
	ref, err := LoadPostcodes(strings.NewReader("pcd,laua,laua_name,oseast1m,osnrth1m\nab1 0jd,S12000033,Aberdeen City,385000,801000\n"))
	require.NoError(t, err)
	return datastore.NewPostcodeIndex(ref)
}

func TestReadLookups_CombinedWorkbook(t *testing.T) {
	data := workbook(t, map[string][][]any{
		SheetChildrensHomes: {
			{"URN", "Setting postcode", "Date closed", "Placement code 1", "Placement code 2"},
			{"SC1", "AB1 0JD", "", "K2", "k2"},
		},
		SheetSocialCare: {
			{"URN", "Setting postcode", "Date closed", "Placement code"},
			{"SC1", "", "31/03/2022", "R1"},
			{"SC2", "ZZ1 1ZZ", "", ""},
		},
	})

	tbl, err := ReadLookups([]File{{Name: "providers.xlsx", Role: RoleCHLookup, Data: data}}, postcodeIndex(t))
	require.NoError(t, err)

	assert.Equal(t, datastore.ProviderColumns, tbl.Columns())
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "SC1", tbl.Str(datastore.ProviderURNCol, 0))
	assert.Equal(t, "K2,R1", tbl.Str(datastore.PlaceCodesCol, 0))
	assert.Equal(t, "31/03/2022", tbl.Str(datastore.CloseDateCol, 0))
	assert.Equal(t, "S12000033", tbl.Str(datastore.InferredLACodeCol, 0))
	assert.Equal(t, "Aberdeen City", tbl.Str(datastore.InferredLANameCol, 0))

	assert.True(t, tbl.IsNull(datastore.PlaceCodesCol, 1))
	assert.True(t, tbl.IsNull(datastore.InferredLACodeCol, 1))
}

func TestReadLookups_MissingSheet(t *testing.T) {
	data := workbook(t, map[string][][]any{
		SheetChildrensHomes: {{"URN", "Setting postcode", "Date closed", "Placement code"}},
	})
	_, err := ReadLookups([]File{{Name: "providers.xlsx", Role: RoleCHLookup, Data: data}}, nil)
	require.ErrorIs(t, err, ErrLookupMissingData)

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, []string{SheetSocialCare}, ue.Columns)
}

func TestReadLookups_SeparateFiles(t *testing.T) {
	ch := []byte("URN,Setting postcode,Date closed,Placement code\nSC1,AB1 0JD,,K2\n")
	scp := []byte("URN,Setting postcode,Placement code\nSC3,AB1 0JD,R1\n")

	_, err := ReadLookups([]File{
		{Name: "ch.csv", Role: RoleCHLookup, Data: ch},
		{Name: "scp.csv", Role: RoleSCPLookup, Data: scp},
	}, nil)
	require.ErrorIs(t, err, ErrLookupMissingData)

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "scp.csv", ue.File)
	assert.Equal(t, []string{"Date closed"}, ue.Columns)

	scp = []byte("URN,Setting postcode,Date closed,Placement code\nSC3,AB1 0JD,,R1\n")
	tbl, err := ReadLookups([]File{
		{Name: "ch.csv", Role: RoleCHLookup, Data: ch},
		{Name: "scp.csv", Role: RoleSCPLookup, Data: scp},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestReadLookups_Layout(t *testing.T) {
	_, err := ReadLookups([]File{{Name: "ch.csv", Role: RoleCHLookup}}, nil)
	assert.ErrorIs(t, err, ErrLookupLayout)

	_, err = ReadLookups([]File{{Name: "a.csv", Role: RoleCHLookup}, {Name: "b.csv", Role: RoleCHLookup}}, nil)
	assert.ErrorIs(t, err, ErrLookupLayout)

	_, err = ReadLookups(make([]File, 3), nil)
	assert.ErrorIs(t, err, ErrLookupCount)
}

func TestLoadPostcodes(t *testing.T) {
	ref, err := LoadPostcodes(strings.NewReader("PCD,LAUA,OSEAST1M,OSNRTH1M,extra\nab1  0jd,S12000033,385000,801000,x\n"))
	require.NoError(t, err)
	assert.Equal(t, "AB10JD", ref.Str(datastore.PostcodeCol, 0))
	assert.True(t, ref.IsNull(datastore.LANameCol, 0))

	_, err = LoadPostcodes(strings.NewReader("pcd,laua\nAB1 0JD,S1\n"))
	assert.ErrorIs(t, err, ErrUnmatchedColumns)
}
