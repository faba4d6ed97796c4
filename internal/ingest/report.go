package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/outcome"
	"github.com/sells-group/shp-enrich/internal/store"
)

// ReportIngester stores reconciliation reports.
type ReportIngester interface {
	CreateReport(ctx context.Context, report model.Report, outcomes []model.MatchOutcome) (*model.Report, error)
}

// Report column positions. The outcome label and the resulting identifier
// are always the last two columns.
const (
	reportColLocalID  = 1
	reportColBeforeID = 2
	reportMinColumns  = 4
)

// Report loads one BibProcessingReport file. The whole file is rejected,
// leaving the store untouched, when the handle carries no valid date or
// any row is malformed or has an unknown outcome label.
func Report(ctx context.Context, st ReportIngester, path string) (*model.Report, Stats, error) {
	var stats Stats

	processDate, err := outcome.ExtractReportDate(path)
	if err != nil {
		return nil, stats, err
	}
	handle := filepath.Base(path)
	isOCN := outcome.IsOCNOnlyProcess(handle)

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, eris.Wrapf(err, "ingest: open report %s", path)
	}
	defer f.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var outcomes []model.MatchOutcome
	rows, errs := StreamDelimited(ctx, f, StreamOptions{Delimiter: DelimPipe, TrimSpace: true})
	for row := range rows {
		stats.Read++
		o, err := parseReportRow(row)
		if err != nil {
			return nil, stats, eris.Wrapf(err, "ingest: report %s line %d", handle, row.Line)
		}
		o.IsOCNProcess = isOCN
		o.ProcessDate = processDate
		outcomes = append(outcomes, o)
	}
	if err := <-errs; err != nil {
		return nil, stats, eris.Wrapf(err, "ingest: report %s", handle)
	}

	rep, err := st.CreateReport(ctx, model.Report{
		Handle:       handle,
		IsOCNProcess: isOCN,
		ProcessDate:  processDate,
	}, outcomes)
	if err != nil {
		return nil, stats, err
	}
	stats.Stored = len(outcomes)

	zap.L().Info("report loaded",
		zap.String("component", "ingest"),
		zap.String("handle", handle),
		zap.Int64("report_id", rep.ID),
		zap.Bool("ocn_process", isOCN),
		zap.Time("process_date", processDate),
		zap.Int("outcomes", stats.Stored),
	)
	return rep, stats, nil
}

func parseReportRow(row Row) (model.MatchOutcome, error) {
	var o model.MatchOutcome
	if len(row.Fields) < reportMinColumns {
		return o, eris.Errorf("expected at least %d columns, got %d", reportMinColumns, len(row.Fields))
	}

	localID, ok := ident.NormalizeBibNumber(row.Fields[reportColLocalID])
	if !ok {
		return o, eris.Errorf("invalid local id %q", row.Fields[reportColLocalID])
	}

	status, err := outcome.Classify(row.Fields[len(row.Fields)-1])
	if err != nil {
		return o, err
	}

	o.LocalID = localID
	o.StatusID = status
	o.ExternalID = optionalIdentifier(row.Fields[len(row.Fields)-2])
	o.IdentifierChanged = outcome.IdentifierChanged(optionalIdentifier(row.Fields[reportColBeforeID]), o.ExternalID)
	return o, nil
}

func optionalIdentifier(raw string) *int64 {
	n, ok := ident.NormalizeIdentifier(raw)
	if !ok {
		return nil
	}
	return &n
}

// ReportDirStats summarizes a directory load.
type ReportDirStats struct {
	Loaded    int `json:"loaded"`
	Duplicate int `json:"duplicate"`
	Outcomes  int `json:"outcomes"`
}

// ReportDir loads every BibProcessingReport in dir in name order. Reports
// loaded by an earlier call are skipped. The first rejected file stops the
// load; files before it stay loaded.
func ReportDir(ctx context.Context, st ReportIngester, dir string) (ReportDirStats, error) {
	var ds ReportDirStats

	paths, err := outcome.FindReports(dir)
	if err != nil {
		return ds, err
	}
	for _, p := range paths {
		_, stats, err := Report(ctx, st, p)
		if errors.Is(err, store.ErrDuplicateReport) {
			ds.Duplicate++
			zap.L().Info("report already loaded", zap.String("component", "ingest"), zap.String("path", p))
			continue
		}
		if err != nil {
			return ds, err
		}
		ds.Loaded++
		ds.Outcomes += stats.Stored
	}
	return ds, nil
}
