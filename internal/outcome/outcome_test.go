package outcome

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shp-enrich/internal/model"
)

const testHandle = "NYP-NYP.1042671.IN.BIB.D20220803.T101322131.1042671.NYP.20220803.StreamlinedHoldings.OCNs.file6.mrc.LbdExceptionReport.txt"

func int64Ptr(n int64) *int64 { return &n }

func TestClassify(t *testing.T) {
	tests := []struct {
		input string
		want  model.OutcomeCategory
	}{
		{"match", model.OutcomeMatch},
		{"create", model.OutcomeCreate},
		{"unresolved", model.OutcomeUnresolved},
		{"data error", model.OutcomeDataError},
		{"data_error", model.OutcomeDataError},
		{" data error ", model.OutcomeDataError},
		{"processing error", model.OutcomeProcessingError},
		{"match\n", model.OutcomeMatch},
	}
	for _, tt := range tests {
		got, err := Classify(tt.input)
		require.NoError(t, err, "input: %q", tt.input)
		assert.Equal(t, tt.want, got, "input: %q", tt.input)
	}
}

func TestClassify_SpaceUnderscoreInsensitive(t *testing.T) {
	a, err := Classify(" data error ")
	require.NoError(t, err)
	b, err := Classify("data_error")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestClassify_Unknown(t *testing.T) {
	for _, label := range []string{"", "matched", "Invalid tag 509.", "data-error"} {
		_, err := Classify(label)
		require.Error(t, err, "input: %q", label)
		assert.True(t, errors.Is(err, ErrUnknownOutcome), "input: %q", label)
	}
}

func TestIdentifierChanged(t *testing.T) {
	assert.False(t, IdentifierChanged(int64Ptr(1), int64Ptr(1)))
	assert.True(t, IdentifierChanged(int64Ptr(1), int64Ptr(2)))
	assert.True(t, IdentifierChanged(nil, int64Ptr(2)))
	assert.True(t, IdentifierChanged(int64Ptr(1), nil))
	assert.True(t, IdentifierChanged(nil, nil))
}

func TestIsOCNOnlyProcess(t *testing.T) {
	assert.True(t, IsOCNOnlyProcess(testHandle))
	assert.False(t, IsOCNOnlyProcess("NYP-NYP.1042671.IN.BIB.D20220803.T101322131.1042671.NYP.20220803.StreamlinedHoldings.file6.mrc.BibProcessingReport.txt"))
	assert.False(t, IsOCNOnlyProcess(""))
}

func TestExtractReportDate(t *testing.T) {
	d, err := ExtractReportDate(testHandle)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2022, 8, 3, 0, 0, 0, 0, time.UTC), d)

	d, err = ExtractReportDate(filepath.Join("files", "NYPL", testHandle))
	require.NoError(t, err)
	assert.Equal(t, 2022, d.Year())
}

func TestExtractReportDate_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		handle string
	}{
		{"one character short", testHandle[:reportDateEnd-1]},
		{"empty", ""},
		{"not digits", testHandle[:reportDateStart] + "2022O8O3" + testHandle[reportDateEnd:]},
		{"not a calendar date", testHandle[:reportDateStart] + "20220231" + testHandle[reportDateEnd:]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractReportDate(tt.handle)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedReportHandle))
		})
	}
}

func TestFindReports(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"b.BibProcessingReport.txt",
		"a.BibProcessingReport.txt",
		"a.LbdExceptionReport.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "x.BibProcessingReport.d"), 0o755))

	got, err := FindReports(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.BibProcessingReport.txt"),
		filepath.Join(dir, "b.BibProcessingReport.txt"),
	}, got)
}
