// Package outcome classifies the reconciliation outcomes listed in the
// authority's batch processing reports and reads report provenance from
// their file handles.
package outcome

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shp-enrich/internal/model"
)

var (
	// ErrUnknownOutcome is returned for a label outside the fixed categories.
	ErrUnknownOutcome = eris.New("unknown outcome")

	// ErrMalformedReportHandle is returned when a report handle does not
	// carry a valid YYYYMMDD date at the expected offset.
	ErrMalformedReportHandle = eris.New("malformed report handle")
)

const (
	// ocnProcessMarker appears in handles of identifier-only reconciliation reports.
	ocnProcessMarker = ".OCNs."

	// bibProcessingMarker appears in handles of processing reports.
	bibProcessingMarker = "BibProcessingReport"

	reportDateStart = 56
	reportDateEnd   = 64
)

var categories = map[string]model.OutcomeCategory{
	"match":            model.OutcomeMatch,
	"create":           model.OutcomeCreate,
	"unresolved":       model.OutcomeUnresolved,
	"data_error":       model.OutcomeDataError,
	"processing_error": model.OutcomeProcessingError,
}

// Classify maps a raw report label to its category. Surrounding whitespace
// is ignored and inner spaces are treated as underscores.
func Classify(label string) (model.OutcomeCategory, error) {
	key := strings.ReplaceAll(strings.TrimSpace(label), " ", "_")
	c, ok := categories[key]
	if !ok {
		return 0, eris.Wrapf(ErrUnknownOutcome, "outcome: classify %q", label)
	}
	return c, nil
}

// IdentifierChanged reports whether the authority returned a different
// identifier than the one held locally. A missing value on either side
// counts as a change.
func IdentifierChanged(before, after *int64) bool {
	if before == nil || after == nil {
		return true
	}
	return *before != *after
}

// IsOCNOnlyProcess reports whether the report came from the identifier-only
// reconciliation pass rather than the full bibliographic pass.
func IsOCNOnlyProcess(handle string) bool {
	return strings.Contains(handle, ocnProcessMarker)
}

// IsBibProcessingReport reports whether a file name is a processing report.
func IsBibProcessingReport(name string) bool {
	return strings.Contains(filepath.Base(name), bibProcessingMarker)
}

// ExtractReportDate reads the processing date embedded in the report file
// name at a fixed offset.
func ExtractReportDate(handle string) (time.Time, error) {
	name := filepath.Base(handle)
	if len(name) < reportDateEnd {
		return time.Time{}, eris.Wrapf(ErrMalformedReportHandle, "outcome: %q too short for date", name)
	}
	raw := name[reportDateStart:reportDateEnd]
	for _, r := range raw {
		if r < '0' || r > '9' {
			return time.Time{}, eris.Wrapf(ErrMalformedReportHandle, "outcome: %q is not a date", raw)
		}
	}
	d, err := time.Parse("20060102", raw)
	if err != nil {
		return time.Time{}, eris.Wrapf(ErrMalformedReportHandle, "outcome: %q is not a calendar date", raw)
	}
	return d, nil
}

// FindReports lists the processing reports in dir, sorted by name.
func FindReports(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "outcome: read dir %s", dir)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !IsBibProcessingReport(e.Name()) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
