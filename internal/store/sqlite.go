package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/shp-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrichment_records (
	local_id           INTEGER PRIMARY KEY,
	external_id        INTEGER NOT NULL,
	format_code        TEXT,
	display_code       TEXT,
	identifier_payload BLOB,
	status             TEXT NOT NULL DEFAULT 'pending',
	enriched_at        TEXT
);

CREATE TABLE IF NOT EXISTS outcome_categories (
	id    INTEGER PRIMARY KEY,
	label TEXT NOT NULL UNIQUE
);

INSERT OR IGNORE INTO outcome_categories (id, label) VALUES
	(1, 'match'),
	(2, 'create'),
	(3, 'unresolved'),
	(4, 'data_error'),
	(5, 'processing_error');

CREATE TABLE IF NOT EXISTS reports (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	handle         TEXT NOT NULL UNIQUE,
	is_ocn_process INTEGER NOT NULL,
	process_date   TEXT NOT NULL,
	ingested_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	local_id           INTEGER NOT NULL,
	report_id          INTEGER NOT NULL REFERENCES reports(id) ON DELETE CASCADE,
	is_ocn_process     INTEGER NOT NULL,
	process_date       TEXT NOT NULL,
	status_id          INTEGER NOT NULL REFERENCES outcome_categories(id),
	external_id        INTEGER,
	identifier_changed INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS holdings_deletion_candidates (
	external_id INTEGER PRIMARY KEY,
	title       TEXT NOT NULL,
	keep        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS local_identifiers (
	local_id    INTEGER NOT NULL,
	external_id INTEGER NOT NULL,
	PRIMARY KEY (local_id, external_id)
);

CREATE INDEX IF NOT EXISTS idx_enrichment_records_status ON enrichment_records(status);
CREATE INDEX IF NOT EXISTS idx_enrichment_records_external_id ON enrichment_records(external_id);
CREATE INDEX IF NOT EXISTS idx_match_outcomes_report_id ON match_outcomes(report_id);
CREATE INDEX IF NOT EXISTS idx_match_outcomes_local_id ON match_outcomes(local_id);
CREATE INDEX IF NOT EXISTS idx_local_identifiers_external_id ON local_identifiers(external_id);
`

const recordColumns = `local_id, external_id, format_code, display_code, identifier_payload, status, enriched_at`

const processDateLayout = "2006-01-02"

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Records ---

func (s *SQLiteStore) SelectPending(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM enrichment_records
		WHERE status = ? AND format_code IS NOT NULL AND format_code <> ''
		ORDER BY local_id`
	return s.listRecords(ctx, query, limit, string(model.StatusPending))
}

func (s *SQLiteStore) SelectForExport(ctx context.Context, limit int) ([]model.EnrichmentRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM enrichment_records WHERE status = ? ORDER BY local_id`
	return s.listRecords(ctx, query, limit, string(model.StatusPending))
}

func (s *SQLiteStore) listRecords(ctx context.Context, query string, limit int, args ...any) ([]model.EnrichmentRecord, error) {
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close() //nolint:errcheck

	var recs []model.EnrichmentRecord
	for rows.Next() {
		r, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *r)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) UpsertIfAbsent(ctx context.Context, localID int64, fields model.RecordFields) (*model.EnrichmentRecord, bool, error) {
	var (
		rec      *model.EnrichmentRecord
		inserted bool
	)
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO enrichment_records (local_id, external_id, status) VALUES (?, ?, ?)
			 ON CONFLICT(local_id) DO NOTHING`,
			localID, fields.ExternalID, string(model.StatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert record %d", localID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}
		inserted = n == 1

		rec, err = getSQLiteRecord(ctx, tx, localID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return rec, inserted, nil
}

func (s *SQLiteStore) AttachLocalData(ctx context.Context, localID int64, data model.LocalData) (*model.EnrichmentRecord, error) {
	var rec *model.EnrichmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE enrichment_records SET format_code = ?, display_code = ?, identifier_payload = ? WHERE local_id = ?`,
			nullString(data.FormatCode), nullString(data.DisplayCode), data.IdentifierPayload, localID,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: attach local data %d", localID)
		}
		if err := checkRowsAffected(res, "record", localID); err != nil {
			return err
		}
		rec, err = getSQLiteRecord(ctx, tx, localID)
		return err
	})
	return rec, err
}

func (s *SQLiteStore) CommitEnriched(ctx context.Context, localID int64, at time.Time) (*model.EnrichmentRecord, error) {
	var rec *model.EnrichmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE enrichment_records SET status = ?, enriched_at = ? WHERE local_id = ? AND status = ?`,
			string(model.StatusEnriched), formatTime(at), localID, string(model.StatusPending),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: commit enriched %d", localID)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}

		rec, err = getSQLiteRecord(ctx, tx, localID)
		if err != nil {
			return err
		}
		if n == 0 {
			return eris.Wrapf(ErrAlreadyEnriched, "record %d", localID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, localID int64) (*model.EnrichmentRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM enrichment_records WHERE local_id = ?`, localID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRecordNotFound, "record %d", localID)
	}
	return rec, err
}

func (s *SQLiteStore) DeleteByLocalID(ctx context.Context, localID int64) (int64, error) {
	return s.deleteRecords(ctx, `DELETE FROM enrichment_records WHERE local_id = ?`, localID)
}

func (s *SQLiteStore) DeleteByExternalID(ctx context.Context, externalID int64) (int64, error) {
	return s.deleteRecords(ctx, `DELETE FROM enrichment_records WHERE external_id = ?`, externalID)
}

func (s *SQLiteStore) deleteRecords(ctx context.Context, query string, id int64) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, id)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete records %d", id)
		}
		n, err = res.RowsAffected()
		return eris.Wrap(err, "sqlite: rows affected")
	})
	return n, err
}

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[model.Status]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM enrichment_records GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by status")
	}
	defer rows.Close() //nolint:errcheck

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
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.Status(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count by status iterate")
}

// --- Reports ---

func (s *SQLiteStore) CreateReport(ctx context.Context, report model.Report, outcomes []model.MatchOutcome) (*model.Report, error) {
	if report.IngestedAt.IsZero() {
		report.IngestedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM reports WHERE handle = ?`, report.Handle).Scan(&exists)
		if err != nil {
			return eris.Wrap(err, "sqlite: check report")
		}
		if exists > 0 {
			return eris.Wrapf(ErrDuplicateReport, "report %s", report.Handle)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO reports (handle, is_ocn_process, process_date, ingested_at) VALUES (?, ?, ?, ?)`,
			report.Handle, report.IsOCNProcess, report.ProcessDate.Format(processDateLayout), formatTime(report.IngestedAt),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert report %s", report.Handle)
		}
		report.ID, err = res.LastInsertId()
		if err != nil {
			return eris.Wrap(err, "sqlite: report id")
		}

		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO match_outcomes (local_id, report_id, is_ocn_process, process_date, status_id, external_id, identifier_changed)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare outcome insert")
		}
		defer stmt.Close() //nolint:errcheck

		for _, o := range outcomes {
			_, err := stmt.ExecContext(ctx,
				o.LocalID, report.ID, o.IsOCNProcess, o.ProcessDate.Format(processDateLayout),
				int(o.StatusID), nullInt64(o.ExternalID), o.IdentifierChanged,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert outcome for record %d", o.LocalID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, reportID int64) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM match_outcomes WHERE report_id = ?`, reportID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete outcomes of report %d", reportID)
		}
		if n, err = res.RowsAffected(); err != nil {
			return eris.Wrap(err, "sqlite: rows affected")
		}

		res, err = tx.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, reportID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: delete report %d", reportID)
		}
		return checkRowsAffected(res, "report", reportID)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLiteStore) OutcomeSummary(ctx context.Context) (map[model.OutcomeCategory]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status_id, COUNT(*) FROM match_outcomes GROUP BY status_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: outcome summary")
	}
	defer rows.Close() //nolint:errcheck

	summary := make(map[model.OutcomeCategory]int64, len(model.AllOutcomeCategories))
	for _, c := range model.AllOutcomeCategories {
		summary[c] = 0
	}
	for rows.Next() {
		var (
			id int
			n  int64
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome count")
		}
		summary[model.OutcomeCategory(id)] = n
	}
	return summary, eris.Wrap(rows.Err(), "sqlite: outcome summary iterate")
}

func (s *SQLiteStore) ChangedOutcomes(ctx context.Context) ([]model.MatchOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, local_id, report_id, is_ocn_process, process_date, status_id, external_id, identifier_changed
		 FROM match_outcomes WHERE identifier_changed = 1 ORDER BY process_date, local_id, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: changed outcomes")
	}
	defer rows.Close() //nolint:errcheck

	var outcomes []model.MatchOutcome
	for rows.Next() {
		var (
			o          model.MatchOutcome
			date       string
			statusID   int
			externalID sql.NullInt64
		)
		if err := rows.Scan(&o.ID, &o.LocalID, &o.ReportID, &o.IsOCNProcess, &date, &statusID, &externalID, &o.IdentifierChanged); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan outcome")
		}
		o.StatusID = model.OutcomeCategory(statusID)
		if externalID.Valid {
			v := externalID.Int64
			o.ExternalID = &v
		}
		if o.ProcessDate, err = time.Parse(processDateLayout, date); err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse process date %q", date)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: changed outcomes iterate")
}

// --- Holdings ---

func (s *SQLiteStore) AddHoldingsCandidate(ctx context.Context, c model.HoldingsDeletionCandidate) (bool, error) {
	var added bool
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO holdings_deletion_candidates (external_id, title, keep) VALUES (?, ?, ?)
			 ON CONFLICT(external_id) DO NOTHING`,
			c.ExternalID, c.Title, c.Keep,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: add holdings candidate %d", c.ExternalID)
		}
		n, err := res.RowsAffected()
		added = n == 1
		return eris.Wrap(err, "sqlite: rows affected")
	})
	return added, err
}

func (s *SQLiteStore) ListHoldingsCandidates(ctx context.Context) ([]model.HoldingsDeletionCandidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id, title, keep FROM holdings_deletion_candidates ORDER BY external_id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list holdings candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.HoldingsDeletionCandidate
	for rows.Next() {
		var c model.HoldingsDeletionCandidate
		if err := rows.Scan(&c.ExternalID, &c.Title, &c.Keep); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan holdings candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list holdings candidates iterate")
}

func (s *SQLiteStore) SetHoldingsKeep(ctx context.Context, externalID int64, keep bool) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE holdings_deletion_candidates SET keep = ? WHERE external_id = ?`, keep, externalID)
		if err != nil {
			return eris.Wrapf(err, "sqlite: set holdings keep %d", externalID)
		}
		return checkRowsAffected(res, "holdings candidate", externalID)
	})
}

// --- Local identifiers ---

func (s *SQLiteStore) ReplaceLocalIdentifiers(ctx context.Context, localID int64, externalIDs []int64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM local_identifiers WHERE local_id = ?`, localID); err != nil {
			return eris.Wrapf(err, "sqlite: clear local identifiers %d", localID)
		}
		for _, ext := range externalIDs {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO local_identifiers (local_id, external_id) VALUES (?, ?)
				 ON CONFLICT(local_id, external_id) DO NOTHING`,
				localID, ext,
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: insert local identifier %d/%d", localID, ext)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DuplicateExternalIDs(ctx context.Context) (map[int64][]int64, error) {
	rows, err := s.db.QueryContext(ctx, duplicateIdentifiersQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: duplicate identifiers")
	}
	defer rows.Close() //nolint:errcheck

	dups := make(map[int64][]int64)
	for rows.Next() {
		var ext, local int64
		if err := rows.Scan(&ext, &local); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan duplicate identifier")
		}
		dups[ext] = append(dups[ext], local)
	}
	return dups, eris.Wrap(rows.Err(), "sqlite: duplicate identifiers iterate")
}

const duplicateIdentifiersQuery = `
SELECT external_id, local_id FROM local_identifiers
WHERE external_id IN (
	SELECT external_id FROM local_identifiers GROUP BY external_id HAVING COUNT(*) > 1
)
ORDER BY external_id, local_id`

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRecordNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func getSQLiteRecord(ctx context.Context, tx *sql.Tx, localID int64) (*model.EnrichmentRecord, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM enrichment_records WHERE local_id = ?`, localID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrRecordNotFound, "record %d", localID)
	}
	return rec, err
}

func scanSQLiteRecord(row scannable) (*model.EnrichmentRecord, error) {
	var (
		r          model.EnrichmentRecord
		format     sql.NullString
		display    sql.NullString
		status     string
		enrichedAt sql.NullString
	)
	err := row.Scan(&r.LocalID, &r.ExternalID, &format, &display, &r.IdentifierPayload, &status, &enrichedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	r.Status = model.Status(status)
	if format.Valid {
		r.FormatCode = &format.String
	}
	if display.Valid {
		r.DisplayCode = &display.String
	}
	if enrichedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, enrichedAt.String)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse enriched_at %q", enrichedAt.String)
		}
		r.EnrichedAt = &t
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

var _ Store = (*SQLiteStore)(nil)
