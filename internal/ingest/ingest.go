package ingest

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/model"
)

// Stats counts rows handled by one ingestion.
type Stats struct {
	Read    int `json:"read"`
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

// RecordIngester stores cross-reference rows.
type RecordIngester interface {
	UpsertIfAbsent(ctx context.Context, localID int64, fields model.RecordFields) (*model.EnrichmentRecord, bool, error)
}

// HoldingsIngester stores holdings deletion candidates.
type HoldingsIngester interface {
	AddHoldingsCandidate(ctx context.Context, c model.HoldingsDeletionCandidate) (bool, error)
}

// IdentifierIngester stores the identifiers found in a local export.
type IdentifierIngester interface {
	ReplaceLocalIdentifiers(ctx context.Context, localID int64, externalIDs []int64) error
}

// CrossRef loads "localId,externalId" rows. Existing records are left
// untouched, so the same file can be loaded again safely. Rows without a
// first column, or whose identifiers do not normalize, are skipped and
// counted.
func CrossRef(ctx context.Context, st RecordIngester, r io.Reader) (Stats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", "crossref"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats Stats
	rows, errs := StreamDelimited(ctx, r, StreamOptions{Delimiter: DelimComma, TrimSpace: true})
	for row := range rows {
		stats.Read++
		if len(row.Fields) < 2 || row.Fields[0] == "" {
			stats.Skipped++
			log.Debug("skipping row without local id", zap.Int("line", row.Line))
			continue
		}

		localID, ok := ident.NormalizeBibNumber(row.Fields[0])
		if !ok {
			stats.Skipped++
			log.Debug("skipping row with invalid local id", zap.Int("line", row.Line), zap.String("value", row.Fields[0]))
			continue
		}
		externalID, ok := ident.NormalizeIdentifier(row.Fields[1])
		if !ok {
			stats.Skipped++
			log.Debug("skipping row with invalid external id", zap.Int("line", row.Line), zap.String("value", row.Fields[1]))
			continue
		}

		_, inserted, err := st.UpsertIfAbsent(ctx, localID, model.RecordFields{ExternalID: externalID})
		if err != nil {
			return stats, err
		}
		if inserted {
			stats.Stored++
		}
	}
	if err := <-errs; err != nil {
		return stats, err
	}

	log.Info("cross reference loaded", zap.Int("read", stats.Read), zap.Int("stored", stats.Stored), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// Deletions loads an authority holdings deletion report of "ocn|title"
// rows. Already recorded identifiers are left in place.
func Deletions(ctx context.Context, st HoldingsIngester, r io.Reader) (Stats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", "deletions"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats Stats
	rows, errs := StreamDelimited(ctx, r, StreamOptions{Delimiter: DelimPipe})
	for row := range rows {
		stats.Read++
		if len(row.Fields) == 0 {
			stats.Skipped++
			continue
		}
		ocn, ok := ident.NormalizeIdentifier(row.Fields[0])
		if !ok {
			stats.Skipped++
			log.Debug("skipping row with invalid ocn", zap.Int("line", row.Line), zap.String("value", row.Fields[0]))
			continue
		}
		var title string
		if len(row.Fields) > 1 {
			title = ident.NormalizeTitle(row.Fields[1])
		}

		added, err := st.AddHoldingsCandidate(ctx, model.HoldingsDeletionCandidate{ExternalID: ocn, Title: title})
		if err != nil {
			return stats, err
		}
		if added {
			stats.Stored++
		} else {
			stats.Skipped++
		}
	}
	if err := <-errs; err != nil {
		return stats, err
	}

	log.Info("deletions loaded", zap.Int("read", stats.Read), zap.Int("stored", stats.Stored), zap.Int("skipped", stats.Skipped))
	return stats, nil
}

// SierraExport loads a caret delimited local catalog export, recording
// every authority identifier each local record carries. The first row is
// the export header.
func SierraExport(ctx context.Context, st IdentifierIngester, r io.Reader, layout ident.ExportLayout) (Stats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", "sierra_export"))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var stats Stats
	rows, errs := StreamDelimited(ctx, r, StreamOptions{Delimiter: DelimCaret, HasHeader: true})
	for row := range rows {
		stats.Read++
		if len(row.Fields) == 0 || row.Fields[0] == "" {
			stats.Skipped++
			continue
		}
		localID, ok := ident.NormalizeBibNumber(row.Fields[0])
		if !ok {
			stats.Skipped++
			log.Debug("skipping row with invalid local id", zap.Int("line", row.Line), zap.String("value", row.Fields[0]))
			continue
		}

		ids := ident.SortedIdentifiers(ident.ExtractIdentifierSet(row.Fields, layout))
		if err := st.ReplaceLocalIdentifiers(ctx, localID, ids); err != nil {
			return stats, err
		}
		stats.Stored++
	}
	if err := <-errs; err != nil {
		return stats, err
	}

	log.Info("sierra export loaded", zap.Int("read", stats.Read), zap.Int("stored", stats.Stored), zap.Int("skipped", stats.Skipped))
	return stats, nil
}
