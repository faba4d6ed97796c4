package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/shp-enrich/internal/model"
)

var (
	// ErrRecordNotFound is returned when an operation targets a local
	// identifier, report or candidate that does not exist.
	ErrRecordNotFound = eris.New("store: record not found")
	// ErrAlreadyEnriched is returned by CommitEnriched when the record has
	// already been committed by an earlier run.
	ErrAlreadyEnriched = eris.New("store: record already enriched")
	// ErrDuplicateReport is returned when a report handle was already
	// ingested.
	ErrDuplicateReport = eris.New("store: report already ingested")
)

// RecordStore persists the enrichment state of local records. Every
// method runs in its own transaction.
type RecordStore interface {
	// SelectPending returns pending records with a format code in
	// ascending local_id order. A limit <= 0 returns all of them.
	SelectPending(ctx context.Context, limit int) ([]model.EnrichmentRecord, error)
	// SelectForExport returns pending records regardless of local data.
	SelectForExport(ctx context.Context, limit int) ([]model.EnrichmentRecord, error)
	// UpsertIfAbsent inserts a pending record or returns the existing one
	// unmodified. The bool reports whether a row was inserted.
	UpsertIfAbsent(ctx context.Context, localID int64, fields model.RecordFields) (*model.EnrichmentRecord, bool, error)
	AttachLocalData(ctx context.Context, localID int64, data model.LocalData) (*model.EnrichmentRecord, error)
	CommitEnriched(ctx context.Context, localID int64, at time.Time) (*model.EnrichmentRecord, error)
	GetRecord(ctx context.Context, localID int64) (*model.EnrichmentRecord, error)
	DeleteByLocalID(ctx context.Context, localID int64) (int64, error)
	DeleteByExternalID(ctx context.Context, externalID int64) (int64, error)
	CountByStatus(ctx context.Context) (map[model.Status]int64, error)
}

// ReportStore persists ingested reconciliation reports.
type ReportStore interface {
	// CreateReport stores the report and all of its outcomes atomically.
	CreateReport(ctx context.Context, report model.Report, outcomes []model.MatchOutcome) (*model.Report, error)
	DeleteReport(ctx context.Context, reportID int64) (int64, error)
	OutcomeSummary(ctx context.Context) (map[model.OutcomeCategory]int64, error)
	// ChangedOutcomes lists outcomes whose external identifier changed.
	ChangedOutcomes(ctx context.Context) ([]model.MatchOutcome, error)
}

// HoldingsStore persists holdings deletion candidates.
type HoldingsStore interface {
	// AddHoldingsCandidate reports false when the identifier is already
	// recorded.
	AddHoldingsCandidate(ctx context.Context, c model.HoldingsDeletionCandidate) (bool, error)
	ListHoldingsCandidates(ctx context.Context) ([]model.HoldingsDeletionCandidate, error)
	SetHoldingsKeep(ctx context.Context, externalID int64, keep bool) error
}

// IdentifierStore persists the external identifiers found in a local
// catalog export.
type IdentifierStore interface {
	ReplaceLocalIdentifiers(ctx context.Context, localID int64, externalIDs []int64) error
	// DuplicateExternalIDs maps each external identifier claimed by more
	// than one local record to those local identifiers, ascending.
	DuplicateExternalIDs(ctx context.Context) (map[int64][]int64, error)
}

// Store is the full persistence surface.
type Store interface {
	RecordStore
	ReportStore
	HoldingsStore
	IdentifierStore

	Migrate(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects and configures a backend.
type Config struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Pool        *PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// Open connects to the configured backend and runs its migration.
func Open(ctx context.Context, cfg Config) (Store, error) {
	var (
		st  Store
		err error
	)
	switch cfg.Driver {
	case DriverSQLite, "":
		st, err = NewSQLite(cfg.DatabaseURL)
	case DriverPostgres:
		st, err = NewPostgres(ctx, cfg.DatabaseURL, cfg.Pool)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}
