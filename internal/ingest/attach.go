package ingest

import (
	"context"
	"errors"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/ident"
	"github.com/sells-group/shp-enrich/internal/marc"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/store"
)

// LocalDataStore attaches local export data to stored records.
type LocalDataStore interface {
	AttachLocalData(ctx context.Context, localID int64, data model.LocalData) (*model.EnrichmentRecord, error)
}

// AttachLayout names the local MARC fields read by AttachMARC.
type AttachLayout struct {
	BibNumberTag   string   `yaml:"bib_number_tag" mapstructure:"bib_number_tag"`
	BibNumberCode  string   `yaml:"bib_number_code" mapstructure:"bib_number_code"`
	FixedFieldTag  string   `yaml:"fixed_field_tag" mapstructure:"fixed_field_tag"`
	FormatCode     string   `yaml:"format_code" mapstructure:"format_code"`
	DisplayCode    string   `yaml:"display_code" mapstructure:"display_code"`
	IdentifierTags []string `yaml:"identifier_tags" mapstructure:"identifier_tags"`
}

// DefaultAttachLayout matches a Sierra bibliographic MARC export: the bib
// number in 907 $a and the format and OPAC display codes in 998 $d and $e.
func DefaultAttachLayout() AttachLayout {
	return AttachLayout{
		BibNumberTag:   "907",
		BibNumberCode:  "a",
		FixedFieldTag:  "998",
		FormatCode:     "d",
		DisplayCode:    "e",
		IdentifierTags: []string{"020"},
	}
}

// AttachMARC reads a local MARC export and attaches the format code,
// display code and identifier fields of each record to the stored record
// with the same bib number. Records with no bib number or not present in
// the store are skipped and counted.
func AttachMARC(ctx context.Context, st LocalDataStore, r io.Reader, layout AttachLayout) (Stats, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("source", "sierra_marc"))

	var stats Stats
	reader := marc.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "ingest: attach interrupted")
		}

		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, eris.Wrapf(err, "ingest: read record %d", stats.Read+1)
		}
		stats.Read++

		raw, _ := rec.Subfield(layout.BibNumberTag, layout.BibNumberCode)
		localID, ok := ident.NormalizeBibNumber(raw)
		if !ok {
			stats.Skipped++
			log.Warn("record has no bib number", zap.Int("position", stats.Read), zap.String("value", raw))
			continue
		}

		format, _ := rec.Subfield(layout.FixedFieldTag, layout.FormatCode)
		display, _ := rec.Subfield(layout.FixedFieldTag, layout.DisplayCode)
		payload, err := marc.EncodeFields(rec.FieldsByTag(layout.IdentifierTags...))
		if err != nil {
			return stats, err
		}

		_, err = st.AttachLocalData(ctx, localID, model.LocalData{
			FormatCode:        format,
			DisplayCode:       display,
			IdentifierPayload: payload,
		})
		if errors.Is(err, store.ErrRecordNotFound) {
			stats.Skipped++
			log.Warn("bib not found in the datastore", zap.Int64("local_id", localID))
			continue
		}
		if err != nil {
			return stats, err
		}
		stats.Stored++
	}

	log.Info("local data attached", zap.Int("read", stats.Read), zap.Int("stored", stats.Stored), zap.Int("skipped", stats.Skipped))
	return stats, nil
}
