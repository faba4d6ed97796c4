package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Library identifies the local system variant a record belongs to.
type Library string

const (
	LibraryBPL  Library = "BPL"
	LibraryNYPL Library = "NYPL"
)

// ParseLibrary converts a case-insensitive library code into a Library.
func ParseLibrary(s string) (Library, error) {
	switch Library(strings.ToUpper(strings.TrimSpace(s))) {
	case LibraryBPL:
		return LibraryBPL, nil
	case LibraryNYPL:
		return LibraryNYPL, nil
	default:
		return "", eris.Errorf("model: unknown library %q (expected BPL or NYPL)", s)
	}
}

// Status is the enrichment state of a local record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusEnriched Status = "enriched"
)

// EnrichmentRecord is one local catalog record eligible for enrichment.
type EnrichmentRecord struct {
	LocalID           int64      `json:"local_id"`
	ExternalID        int64      `json:"external_id"`
	FormatCode        *string    `json:"format_code,omitempty"`
	DisplayCode       *string    `json:"display_code,omitempty"`
	IdentifierPayload []byte     `json:"identifier_payload,omitempty"`
	Status            Status     `json:"status"`
	EnrichedAt        *time.Time `json:"enriched_at,omitempty"`
}

// Eligible reports whether the record can be selected for enrichment:
// still pending and with local data populated.
func (r *EnrichmentRecord) Eligible() bool {
	return r.Status == StatusPending && r.FormatCode != nil && *r.FormatCode != ""
}

// RecordFields holds the values written when a record is first ingested.
type RecordFields struct {
	ExternalID int64 `json:"external_id"`
}

// LocalData holds the values copied from the local system export.
type LocalData struct {
	FormatCode        string `json:"format_code"`
	DisplayCode       string `json:"display_code"`
	IdentifierPayload []byte `json:"identifier_payload,omitempty"`
}

// LocalIdentifier links a local record to one authority identifier found in
// the local system export.
type LocalIdentifier struct {
	LocalID    int64 `json:"local_id"`
	ExternalID int64 `json:"external_id"`
}
