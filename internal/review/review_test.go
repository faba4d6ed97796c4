package review

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/shp-enrich/internal/model"
)

func TestExportHoldings_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holdings.xlsx")
	err := ExportHoldings(path, []model.HoldingsDeletionCandidate{
		{ExternalID: 101, Title: "first title"},
		{ExternalID: 202, Title: "second title", Keep: true},
	})
	require.NoError(t, err)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	sheet, ok := f.Sheet[HoldingsSheet]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)
	assert.Equal(t, []string{"ocn", "title", "keep"}, rowToStrings(sheet.Rows[0]))
	assert.Equal(t, []string{"202", "second title", "x"}, rowToStrings(sheet.Rows[2]))

	flags, err := ReadKeepFlags(path)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{101: false, 202: true}, flags)
}

func createWorkbook(t *testing.T, sheetName string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	require.NoError(t, err)
	for _, r := range rows {
		addRow(sheet, r...)
	}
	path := filepath.Join(t.TempDir(), "curated.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadKeepFlags_Curated(t *testing.T) {
	path := createWorkbook(t, "Sheet1", [][]string{
		{"OCN", "Title", "Keep"},
		{"ocm101", "a", "Yes"},
		{"202", "b", "no"},
		{"303", "c"},
		{"", "blank row", "x"},
		{"404", "d", "X"},
	})

	flags, err := ReadKeepFlags(path)
	require.NoError(t, err)
	assert.Equal(t, map[int64]bool{101: true, 202: false, 303: false, 404: true}, flags)
}

func TestReadKeepFlags_InvalidOCN(t *testing.T) {
	path := createWorkbook(t, HoldingsSheet, [][]string{
		{"ocn", "title", "keep"},
		{"abc", "x", "x"},
	})

	_, err := ReadKeepFlags(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestReadKeepFlags_MissingFile(t *testing.T) {
	_, err := ReadKeepFlags(filepath.Join(t.TempDir(), "missing.xlsx"))
	assert.Error(t, err)
}

func TestWriteSierraList(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSierraList(&buf, []model.EnrichmentRecord{{LocalID: 11111111}, {LocalID: 22222222}})
	require.NoError(t, err)
	assert.Equal(t, "b11111111a\nb22222222a\n", buf.String())
}

func TestWriteChangedOutcomes(t *testing.T) {
	ext := int64(909)
	var buf bytes.Buffer
	err := WriteChangedOutcomes(&buf, []model.MatchOutcome{
		{ID: 1, LocalID: 22222222, ReportID: 3, ProcessDate: time.Date(2022, 8, 3, 0, 0, 0, 0, time.UTC), IsOCNProcess: true, StatusID: model.OutcomeMatch, ExternalID: &ext},
		{ID: 2, LocalID: 33333333, ReportID: 3, ProcessDate: time.Date(2022, 8, 3, 0, 0, 0, 0, time.UTC), StatusID: model.OutcomeUnresolved},
	})
	require.NoError(t, err)
	assert.Equal(t,
		"local_id,bib_number,report_id,process_date,ocn_process,status,external_id\n"+
			"22222222,b22222222a,3,2022-08-03,true,match,909\n"+
			"33333333,b33333333a,3,2022-08-03,false,unresolved,\n",
		buf.String())
}
