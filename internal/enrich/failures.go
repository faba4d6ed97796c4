package enrich

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
)

var failureHeader = []string{
	"run_id", "position", "total", "local_id", "external_id",
	"stage", "status_code", "error_type", "reason",
}

// CSVFailureReport appends failures as CSV rows.
type CSVFailureReport struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewCSVFailureReport writes rows to w. When header is true the column
// header is written first.
func NewCSVFailureReport(w io.Writer, header bool) (*CSVFailureReport, error) {
	r := &CSVFailureReport{w: csv.NewWriter(w)}
	if header {
		if err := r.writeRow(failureHeader); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// OpenCSVFailureReport opens path for appending. The header is written
// only when the file is new or empty.
func OpenCSVFailureReport(path string) (*CSVFailureReport, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "enrich: open failure report %s", path)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, eris.Wrapf(err, "enrich: stat failure report %s", path)
	}

	r, err := NewCSVFailureReport(f, info.Size() == 0)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, err
	}
	r.closer = f
	return r, nil
}

// ReportFailure appends one row and flushes it.
func (r *CSVFailureReport) ReportFailure(f Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeRow([]string{
		f.RunID.String(),
		strconv.Itoa(f.Position),
		strconv.Itoa(f.Total),
		strconv.FormatInt(f.LocalID, 10),
		strconv.FormatInt(f.ExternalID, 10),
		f.Stage.String(),
		strconv.Itoa(f.StatusCode),
		string(f.Class),
		f.Reason,
	})
}

func (r *CSVFailureReport) writeRow(row []string) error {
	if err := r.w.Write(row); err != nil {
		return eris.Wrap(err, "enrich: write failure row")
	}
	r.w.Flush()
	return eris.Wrap(r.w.Error(), "enrich: flush failure report")
}

// Close closes the underlying file when the report owns it.
func (r *CSVFailureReport) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
