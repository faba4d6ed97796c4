package model

import "time"

// OutcomeCategory classifies how a reconciliation attempt resolved.
type OutcomeCategory int

const (
	OutcomeMatch           OutcomeCategory = 1
	OutcomeCreate          OutcomeCategory = 2
	OutcomeUnresolved      OutcomeCategory = 3
	OutcomeDataError       OutcomeCategory = 4
	OutcomeProcessingError OutcomeCategory = 5
)

// AllOutcomeCategories lists every category in id order.
var AllOutcomeCategories = []OutcomeCategory{
	OutcomeMatch,
	OutcomeCreate,
	OutcomeUnresolved,
	OutcomeDataError,
	OutcomeProcessingError,
}

// String returns the canonical label stored with the category.
func (c OutcomeCategory) String() string {
	switch c {
	case OutcomeMatch:
		return "match"
	case OutcomeCreate:
		return "create"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeDataError:
		return "data_error"
	case OutcomeProcessingError:
		return "processing_error"
	default:
		return "unknown"
	}
}

// Report is an upstream audit file recording the authority's reconciliation
// outcomes for a batch of local records.
type Report struct {
	ID           int64     `json:"id"`
	Handle       string    `json:"handle"`
	IsOCNProcess bool      `json:"is_ocn_process"`
	ProcessDate  time.Time `json:"process_date"`
	IngestedAt   time.Time `json:"ingested_at"`
}

// MatchOutcome is one reconciliation attempt listed in a report.
type MatchOutcome struct {
	ID                int64           `json:"id"`
	LocalID           int64           `json:"local_id"`
	ReportID          int64           `json:"report_id"`
	IsOCNProcess      bool            `json:"is_ocn_process"`
	ProcessDate       time.Time       `json:"process_date"`
	StatusID          OutcomeCategory `json:"status_id"`
	ExternalID        *int64          `json:"external_id,omitempty"`
	IdentifierChanged bool            `json:"identifier_changed"`
}

// HoldingsDeletionCandidate is an authority record whose holdings may be
// removed. Keep is curated by hand.
type HoldingsDeletionCandidate struct {
	ExternalID int64  `json:"external_id"`
	Title      string `json:"title"`
	Keep       bool   `json:"keep"`
}
