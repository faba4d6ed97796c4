package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/shp-enrich/internal/db"
	"github.com/sells-group/shp-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(4)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrichment_records (
	local_id           BIGINT PRIMARY KEY,
	external_id        BIGINT NOT NULL,
	format_code        TEXT,
	display_code       TEXT,
	identifier_payload BYTEA,
	status             TEXT NOT NULL DEFAULT 'pending',
	enriched_at        TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS outcome_categories (
	id    INTEGER PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
);

INSERT INTO outcome_categories (id, label) VALUES
	(1, 'match'),
	(2, 'create'),
	(3, 'unresolved'),
	(4, 'data_error'),
	(5, 'processing_error')
ON CONFLICT (id) DO NOTHING;

CREATE TABLE IF NOT EXISTS reports (
	id             BIGSERIAL PRIMARY KEY,
	handle         TEXT NOT NULL UNIQUE,
	is_ocn_process BOOLEAN NOT NULL,
	process_date   DATE NOT NULL,
	ingested_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	id                 BIGSERIAL PRIMARY KEY,
	local_id           BIGINT NOT NULL,
	report_id          BIGINT NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	is_ocn_process     BOOLEAN NOT NULL,
	process_date       DATE NOT NULL,
	status_id          INTEGER NOT NULL REFERENCES outcome_categories(id),
	external_id        BIGINT,
	identifier_changed BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS holdings_deletion_candidates (
	external_id BIGINT PRIMARY KEY,
	title       TEXT NOT NULL,
	keep        BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS local_identifiers (
	local_id    BIGINT NOT NULL,
	external_id BIGINT NOT NULL,
	PRIMARY KEY (local_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_records_status ON enrichment_records(status);
CREATE INDEX IF NOT EXISTS idx_enrichment_records_external_id ON enrichment_records(external_id);
CREATE INDEX IF NOT EXISTS idx_match_outcomes_report_id ON match_outcomes(report_id);
CREATE INDEX IF NOT EXISTS idx_match_outcomes_local_id ON match_outcomes(local_id);
CREATE INDEX IF NOT EXISTS idx_local_identifiers_external_id ON local_identifiers(external_id);
`

var outcomeColumns = []string{
	"local_id", "report_id", "is_ocn_process", "process_date",
	"status_id", "external_id", "identifier_changed",
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Records ---

func (s *PostgresStore) SelectPending(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM enrichment_records
		WHERE status = $1 AND format_code IS NOT NULL AND format_code <> ''
		ORDER BY local_id`
	return s.listRecords(ctx, query, limit)
}

func (s *PostgresStore) SelectForExport(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM enrichment_records WHERE status = $1 ORDER BY local_id`
	return s.listRecords(ctx, query, limit)
}

func (s *PostgresStore) listRecords(ctx context.Context, query string, limit int) ([]model.EnrichmentRecord, error) {
	args := []any{string(model.StatusPending)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var recs []model.EnrichmentRecord
	for rows.Next() {
		r, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) UpsertIfAbsent(ctx context.Context, localID int64, fields model.RecordFields) (*model.EnrichmentRecord, bool, error) {
	var (
		rec      *model.EnrichmentRecord
		inserted bool
	)
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO enrichment_records (local_id, external_id, status) VALUES ($1, $2, $3)
			 ON CONFLICT (local_id) DO NOTHING`,
			localID, fields.ExternalID, string(model.StatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert record %d", localID)
		}
		inserted = tag.RowsAffected() == 1

		rec, err = getPostgresRecord(ctx, tx, localID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, inserted, nil
}

func (s *PostgresStore) AttachLocalData(ctx context.Context, localID int64, data model.LocalData) (*model.EnrichmentRecord, error) {
	var rec *model.EnrichmentRecord
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE enrichment_records SET format_code = $1, display_code = $2, identifier_payload = $3 WHERE local_id = $4`,
			optionalString(data.FormatCode), optionalString(data.DisplayCode), data.IdentifierPayload, localID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: attach local data %d", localID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrRecordNotFound, "record %d", localID)
		}
		rec, err = getPostgresRecord(ctx, tx, localID)
		return err
	})
	return rec, err
}

func (s *PostgresStore) CommitEnriched(ctx context.Context, localID int64, at time.Time) (*model.EnrichmentRecord, error) {
	var rec *model.EnrichmentRecord
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE enrichment_records SET status = $1, enriched_at = $2 WHERE local_id = $3 AND status = $4`,
			string(model.StatusEnriched), at.UTC(), localID, string(model.StatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: commit enriched %d", localID)
		}

		rec, err = getPostgresRecord(ctx, tx, localID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrAlreadyEnriched, "record %d", localID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, localID int64) (*model.EnrichmentRecord, error) {
	return getPostgresRecord(ctx, s.pool, localID)
}

func (s *PostgresStore) DeleteByLocalID(ctx context.Context, localID int64) (int64, error) {
	return s.deleteRecords(ctx, `DELETE FROM enrichment_records WHERE local_id = $1`, localID)
}

func (s *PostgresStore) DeleteByExternalID(ctx context.Context, externalID int64) (int64, error) {
	return s.deleteRecords(ctx, `DELETE FROM enrichment_records WHERE external_id = $1`, externalID)
}

func (s *PostgresStore) deleteRecords(ctx context.Context, query string, id int64) (int64, error) {
	var n int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, id)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete records %d", id)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM enrichment_records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by status")
	}
	defer rows.Close()

	counts := map[model.Status]int64{
		model.StatusPending:  0,
		model.StatusEnriched: 0,
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count by status iterate")
}

// --- Reports ---

func (s *PostgresStore) CreateReport(ctx context.Context, report model.Report, outcomes []model.MatchOutcome) (*model.Report, error) {
	if report.IngestedAt.IsZero() {
		report.IngestedAt = time.Now().UTC()
	}

	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var exists int64
		if err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM reports WHERE handle = $1`, report.Handle).Scan(&exists); err != nil {
			return eris.Wrap(err, "postgres: check report")
		}
		if exists > 0 {
			return eris.Wrapf(ErrDuplicateReport, "report %s", report.Handle)
		}

		err := tx.QueryRow(ctx,
			`INSERT INTO reports (handle, is_ocn_process, process_date, ingested_at) VALUES ($1, $2, $3, $4) RETURNING id`,
			report.Handle, report.IsOCNProcess, report.ProcessDate, report.IngestedAt,
		).Scan(&report.ID)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert report %s", report.Handle)
		}

		rows := make([][]any, 0, len(outcomes))
		for _, o := range outcomes {
			rows = append(rows, []any{
				o.LocalID, report.ID, o.IsOCNProcess, o.ProcessDate,
				int32(o.StatusID), o.ExternalID, o.IdentifierChanged,
			})
		}
		_, err = db.CopyFrom(ctx, tx, "match_outcomes", outcomeColumns, rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, reportID int64) (int64, error) {
	var n int64
	err := db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM match_outcomes WHERE report_id = $1`, reportID)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete outcomes of report %d", reportID)
		}
		n = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `DELETE FROM reports WHERE id = $1`, reportID)
		if err != nil {
			return eris.Wrapf(err, "postgres: delete report %d", reportID)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrRecordNotFound, "report %d", reportID)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *PostgresStore) OutcomeSummary(ctx context.Context) (map[model.OutcomeCategory]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status_id, COUNT(*) FROM match_outcomes GROUP BY status_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: outcome summary")
	}
	defer rows.Close()

	summary := make(map[model.OutcomeCategory]int64, len(model.AllOutcomeCategories))
	for _, c := range model.AllOutcomeCategories {
		summary[c] = 0
	}
	for rows.Next() {
		var (
			id int32
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome count")
		}
		summary[model.OutcomeCategory(id)] = n
	}
	return summary, eris.Wrap(rows.Err(), "postgres: outcome summary iterate")
}

func (s *PostgresStore) ChangedOutcomes(ctx context.Context) ([]model.MatchOutcome, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, local_id, report_id, is_ocn_process, process_date, status_id, external_id, identifier_changed
		 FROM match_outcomes WHERE identifier_changed ORDER BY process_date, local_id, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: changed outcomes")
	}
	defer rows.Close()

	var outcomes []model.MatchOutcome
	for rows.Next() {
		var (
			o        model.MatchOutcome
			statusID int32
		)
		if err := rows.Scan(&o.ID, &o.LocalID, &o.ReportID, &o.IsOCNProcess, &o.ProcessDate, &statusID, &o.ExternalID, &o.IdentifierChanged); err != nil {
			return nil, eris.Wrap(err, "postgres: scan outcome")
		}
		o.StatusID = model.OutcomeCategory(statusID)
		outcomes = append(outcomes, o)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: changed outcomes iterate")
}

// --- Holdings ---

func (s *PostgresStore) AddHoldingsCandidate(ctx context.Context, c model.HoldingsDeletionCandidate) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO holdings_deletion_candidates (external_id, title, keep) VALUES ($1, $2, $3)
		 ON CONFLICT (external_id) DO NOTHING`,
		c.ExternalID, c.Title, c.Keep,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: add holdings candidate %d", c.ExternalID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListHoldingsCandidates(ctx context.Context) ([]model.HoldingsDeletionCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id, title, keep FROM holdings_deletion_candidates ORDER BY external_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list holdings candidates")
	}
	defer rows.Close()

	var out []model.HoldingsDeletionCandidate
	for rows.Next() {
		var c model.HoldingsDeletionCandidate
		if err := rows.Scan(&c.ExternalID, &c.Title, &c.Keep); err != nil {
			return nil, eris.Wrap(err, "postgres: scan holdings candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list holdings candidates iterate")
}

func (s *PostgresStore) SetHoldingsKeep(ctx context.Context, externalID int64, keep bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE holdings_deletion_candidates SET keep = $1 WHERE external_id = $2`, keep, externalID)
	if err != nil {
		return eris.Wrapf(err, "postgres: set holdings keep %d", externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRecordNotFound, "holdings candidate %d", externalID)
	}
	return nil
}

// --- Local identifiers ---

func (s *PostgresStore) ReplaceLocalIdentifiers(ctx context.Context, localID int64, externalIDs []int64) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM local_identifiers WHERE local_id = $1`, localID); err != nil {
			return eris.Wrapf(err, "postgres: clear local identifiers %d", localID)
		}
		for _, ext := range externalIDs {
			_, err := tx.Exec(ctx,
				`INSERT INTO local_identifiers (local_id, external_id) VALUES ($1, $2)
				 ON CONFLICT (local_id, external_id) DO NOTHING`,
				localID, ext,
			)
			if err != nil {
				return eris.Wrapf(err, "postgres: insert local identifier %d/%d", localID, ext)
			}
		}
		return nil
	})
}

func (s *PostgresStore) DuplicateExternalIDs(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.pool.Query(ctx, duplicateIdentifiersQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: duplicate identifiers")
	}
	defer rows.Close()

	dups := make(map[int64][]int64)
	for rows.Next() {
		var ext, local int64
		if err := rows.Scan(&ext, &local); err != nil {
			return nil, eris.Wrap(err, "postgres: scan duplicate identifier")
		}
		dups[ext] = append(dups[ext], local)
	}
	return dups, eris.Wrap(rows.Err(), "postgres: duplicate identifiers iterate")
}

func getPostgresRecord(ctx context.Context, q db.Querier, localID int64) (*model.EnrichmentRecord, error) {
	row := q.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM enrichment_records WHERE local_id = $1`, localID)
	rec, err := scanPostgresRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrRecordNotFound, "record %d", localID)
	}
	return rec, err
}

func scanPostgresRecord(row scannable) (*model.EnrichmentRecord, error) {
	var (
		r      model.EnrichmentRecord
		status string
	)
	err := row.Scan(&r.LocalID, &r.ExternalID, &r.FormatCode, &r.DisplayCode, &r.IdentifierPayload, &status, &r.EnrichedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}
	r.Status = model.Status(status)
	return &r, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ Store = (*PostgresStore)(nil)
