// Package enrich runs enrichment batches: each pending record is fetched
// from the authority, transformed, appended to the output file and
// committed, stopping at the first record that fails.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/shp-enrich/internal/marc"
	"github.com/sells-group/shp-enrich/internal/model"
	"github.com/sells-group/shp-enrich/internal/resilience"
	"github.com/sells-group/shp-enrich/internal/transform"
	"github.com/sells-group/shp-enrich/internal/worldcat"
)

// Store is the subset of the record store a run needs.
type Store interface {
	SelectPending(ctx context.Context, limit int) ([]model.EnrichmentRecord, error)
	CommitEnriched(ctx context.Context, localID int64, at time.Time) (*model.EnrichmentRecord, error)
}

// Fetcher retrieves the authority record for an external identifier.
type Fetcher interface {
	GetFullBib(ctx context.Context, ocn int64) ([]byte, error)
}

// Sink receives enriched records in commit order.
type Sink interface {
	Write(r *marc.Record) error
}

// FailureReporter records the record a run stopped at.
type FailureReporter interface {
	ReportFailure(f Failure) error
}

// State is the position of a record in the run state machine.
type State int

const (
	StatePending State = iota
	StateFetching
	StateTransforming
	StateWriting
	StateCommitting
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFetching:
		return "fetching"
	case StateTransforming:
		return "transforming"
	case StateWriting:
		return "writing"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Failure identifies the record a run stopped at and why.
type Failure struct {
	RunID      uuid.UUID
	Position   int
	Total      int
	LocalID    int64
	ExternalID int64
	Stage      State
	StatusCode int
	Class      resilience.ErrorClass
	Reason     string
}

// RunReport summarizes one run.
type RunReport struct {
	RunID     uuid.UUID `json:"run_id"`
	Selected  int       `json:"selected"`
	Committed int       `json:"committed"`
	// FailedAt is the local identifier of the record the run stopped at.
	FailedAt *int64 `json:"failed_at,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Failed reports whether the run stopped before the end of its batch.
func (r *RunReport) Failed() bool {
	return r.FailedAt != nil
}

// stepResult is the outcome of one record: StateCommitted or StateFailed.
type stepResult struct {
	state   State
	stage   State
	record  *model.EnrichmentRecord
	err     error
	// fatal marks failures of local infrastructure (output file, store)
	// rather than of the record itself.
	fatal bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source used for enriched_at.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// WithFailureReporter sets where the failing record is reported.
func WithFailureReporter(fr FailureReporter) Option {
	return func(o *Orchestrator) {
		o.failures = fr
	}
}

// Orchestrator runs enrichment batches for one library.
type Orchestrator struct {
	store       Store
	fetcher     Fetcher
	transformer *transform.Transformer
	sink        Sink
	library     model.Library
	failures    FailureReporter
	now         func() time.Time
	log         *zap.Logger
}

// New creates an Orchestrator.
func New(st Store, f Fetcher, t *transform.Transformer, sink Sink, lib model.Library, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:       st,
		fetcher:     f,
		transformer: t,
		sink:        sink,
		library:     lib,
		now:         time.Now,
		log:         zap.L().With(zap.String("component", "enrich")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run enriches up to limit pending records (limit <= 0 means all) in
// ascending local_id order. A fetch or record data failure stops the run
// and is returned in the report with a nil error; failures writing the
// output file or committing to the store are also returned as errors.
// Records committed before the failure stay committed, so calling Run
// again resumes at the failed record.
func (o *Orchestrator) Run(ctx context.Context, limit int) (*RunReport, error) {
	if err := o.transformer.Supports(o.library); err != nil {
		return nil, err
	}

	recs, err := o.store.SelectPending(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "enrich: select pending")
	}

	report := &RunReport{RunID: uuid.New(), Selected: len(recs)}
	log := o.log.With(zap.String("run_id", report.RunID.String()), zap.String("library", string(o.library)))
	log.Info("run started", zap.Int("selected", len(recs)), zap.Int("limit", limit))

	for i, rec := range recs {
		if err := ctx.Err(); err != nil {
			return report, eris.Wrap(err, "enrich: run interrupted")
		}

		pos := i + 1
		res := o.step(ctx, rec)
		if res.state == StateCommitted {
			report.Committed++
			log.Debug("record committed",
				zap.Int64("local_id", res.record.LocalID),
				zap.Int64("external_id", res.record.ExternalID),
				zap.Int("position", pos),
				zap.Int("total", len(recs)),
			)
			continue
		}

		localID := rec.LocalID
		report.FailedAt = &localID
		report.Reason = res.err.Error()

		failure := newFailure(report.RunID, pos, len(recs), rec, res)
		log.Error("run stopped at record",
			zap.Int64("local_id", rec.LocalID),
			zap.Int64("external_id", rec.ExternalID),
			zap.Int("position", pos),
			zap.Int("total", len(recs)),
			zap.Stringer("stage", res.stage),
			zap.String("error_type", string(failure.Class)),
			zap.Error(res.err),
		)

		var reportErr error
		if o.failures != nil {
			reportErr = o.failures.ReportFailure(failure)
		}
		if res.fatal {
			return report, errors.Join(eris.Wrapf(res.err, "enrich: record %d", rec.LocalID), reportErr)
		}
		if reportErr != nil {
			return report, eris.Wrap(reportErr, "enrich: write failure report")
		}
		return report, nil
	}

	log.Info("run finished", zap.Int("committed", report.Committed))
	return report, nil
}

// step moves one record through fetch, transform, write and commit.
func (o *Orchestrator) step(ctx context.Context, rec model.EnrichmentRecord) stepResult {
	body, err := o.fetcher.GetFullBib(ctx, rec.ExternalID)
	if err != nil {
		return failed(StateFetching, err, false)
	}

	ext, err := marc.ParseXMLRecord(body)
	if err != nil {
		return failed(StateTransforming, err, false)
	}
	ids, err := marc.DecodeFields(rec.IdentifierPayload)
	if err != nil {
		return failed(StateTransforming, err, false)
	}
	out, err := o.transformer.Transform(ext, transform.LocalContext{
		Library:     o.library,
		LocalID:     rec.LocalID,
		FormatCode:  deref(rec.FormatCode),
		DisplayCode: deref(rec.DisplayCode),
		Identifiers: ids,
	})
	if err != nil {
		return failed(StateTransforming, err, false)
	}

	if err := o.sink.Write(out); err != nil {
		return failed(StateWriting, err, true)
	}

	committed, err := o.store.CommitEnriched(ctx, rec.LocalID, o.now())
	if err != nil {
		return failed(StateCommitting, err, true)
	}
	return stepResult{state: StateCommitted, stage: StateCommitted, record: committed}
}

func failed(stage State, err error, fatal bool) stepResult {
	return stepResult{state: StateFailed, stage: stage, err: err, fatal: fatal}
}

func newFailure(runID uuid.UUID, pos, total int, rec model.EnrichmentRecord, res stepResult) Failure {
	f := Failure{
		RunID:      runID,
		Position:   pos,
		Total:      total,
		LocalID:    rec.LocalID,
		ExternalID: rec.ExternalID,
		Stage:      res.stage,
		Class:      resilience.Classify(res.err),
		Reason:     res.err.Error(),
	}
	var se *worldcat.StatusError
	if errors.As(res.err, &se) {
		f.StatusCode = se.StatusCode
	}
	return f
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
