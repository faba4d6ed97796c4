package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shp-enrich/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedRecord ingests a record and, when format is non-empty, attaches local data.
func seedRecord(t *testing.T, st *SQLiteStore, localID, externalID int64, format string) {
	t.Helper()
	ctx := context.Background()
	_, _, err := st.UpsertIfAbsent(ctx, localID, model.RecordFields{ExternalID: externalID})
	require.NoError(t, err)
	if format != "" {
		_, err = st.AttachLocalData(ctx, localID, model.LocalData{FormatCode: format, DisplayCode: "-"})
		require.NoError(t, err)
	}
}

func localIDs(recs []model.EnrichmentRecord) []int64 {
	ids := make([]int64, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.LocalID)
	}
	return ids
}

func TestSQLite_Migrate_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	require.NoError(t, st.Migrate(context.Background()))
}

// --- Records ---

func TestSQLite_UpsertIfAbsent_Inserts(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, inserted, err := st.UpsertIfAbsent(ctx, 12345678, model.RecordFields{ExternalID: 1001})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, int64(12345678), rec.LocalID)
	assert.Equal(t, int64(1001), rec.ExternalID)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Nil(t, rec.FormatCode)
	assert.Nil(t, rec.EnrichedAt)
}

func TestSQLite_UpsertIfAbsent_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, _, err := st.UpsertIfAbsent(ctx, 1, model.RecordFields{ExternalID: 1001})
	require.NoError(t, err)

	second, inserted, err := st.UpsertIfAbsent(ctx, 1, model.RecordFields{ExternalID: 9999})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, first, second)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.StatusPending])
}

func TestSQLite_UpsertIfAbsent_KeepsEnrichmentProgress(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 1001, "a")

	at := time.Date(2022, 8, 3, 10, 0, 0, 0, time.UTC)
	_, err := st.CommitEnriched(ctx, 1, at)
	require.NoError(t, err)

	rec, inserted, err := st.UpsertIfAbsent(ctx, 1, model.RecordFields{ExternalID: 1001})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, model.StatusEnriched, rec.Status)
	require.NotNil(t, rec.FormatCode)
	assert.Equal(t, "a", *rec.FormatCode)
}

func TestSQLite_SelectPending(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	seedRecord(t, st, 30, 3, "a")
	seedRecord(t, st, 10, 1, "a")
	seedRecord(t, st, 20, 2, "") // no local data yet
	seedRecord(t, st, 40, 4, "g")
	_, err := st.CommitEnriched(ctx, 40, time.Now())
	require.NoError(t, err)

	recs, err := st.SelectPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 30}, localIDs(recs))
	for _, r := range recs {
		assert.True(t, r.Eligible())
	}
}

func TestSQLite_SelectPending_Limit(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		seedRecord(t, st, i, i+100, "a")
	}

	recs, err := st.SelectPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, localIDs(recs))
}

func TestSQLite_SelectPending_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	recs, err := st.SelectPending(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLite_SelectForExport_IgnoresLocalData(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 2, 20, "")
	seedRecord(t, st, 1, 10, "a")
	seedRecord(t, st, 3, 30, "a")
	_, err := st.CommitEnriched(ctx, 3, time.Now())
	require.NoError(t, err)

	recs, err := st.SelectForExport(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, localIDs(recs))
}

func TestSQLite_AttachLocalData(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 10, "")

	payload := []byte(`[{"tag":"020"}]`)
	rec, err := st.AttachLocalData(ctx, 1, model.LocalData{FormatCode: "a", DisplayCode: "b", IdentifierPayload: payload})
	require.NoError(t, err)
	require.NotNil(t, rec.FormatCode)
	require.NotNil(t, rec.DisplayCode)
	assert.Equal(t, "a", *rec.FormatCode)
	assert.Equal(t, "b", *rec.DisplayCode)
	assert.Equal(t, payload, rec.IdentifierPayload)
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestSQLite_AttachLocalData_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.AttachLocalData(context.Background(), 404, model.LocalData{FormatCode: "a"})
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLite_CommitEnriched(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 10, "a")

	at := time.Date(2022, 8, 6, 15, 4, 5, 123, time.UTC)
	rec, err := st.CommitEnriched(ctx, 1, at)
	require.NoError(t, err)
	assert.Equal(t, model.StatusEnriched, rec.Status)
	require.NotNil(t, rec.EnrichedAt)
	assert.True(t, at.Equal(*rec.EnrichedAt))

	got, err := st.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSQLite_CommitEnriched_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.CommitEnriched(context.Background(), 404, time.Now())
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLite_CommitEnriched_Twice(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 10, "a")

	first := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := st.CommitEnriched(ctx, 1, first)
	require.NoError(t, err)

	_, err = st.CommitEnriched(ctx, 1, first.Add(time.Hour))
	require.ErrorIs(t, err, ErrAlreadyEnriched)

	rec, err := st.GetRecord(ctx, 1)
	require.NoError(t, err)
	assert.True(t, first.Equal(*rec.EnrichedAt))
}

func TestSQLite_GetRecord_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRecord(context.Background(), 1)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLite_DeleteByLocalID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 10, "a")

	n, err := st.DeleteByLocalID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = st.DeleteByLocalID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSQLite_DeleteByExternalID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	seedRecord(t, st, 1, 10, "a")
	seedRecord(t, st, 2, 10, "a")
	seedRecord(t, st, 3, 11, "a")

	n, err := st.DeleteByExternalID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = st.DeleteByExternalID(ctx, 999)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	recs, err := st.SelectPending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, localIDs(recs))
}

func TestSQLite_CountByStatus(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.Status]int64{model.StatusPending: 0, model.StatusEnriched: 0}, counts)

	seedRecord(t, st, 1, 10, "a")
	seedRecord(t, st, 2, 20, "a")
	_, err = st.CommitEnriched(ctx, 2, time.Now())
	require.NoError(t, err)

	counts, err = st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[model.StatusPending])
	assert.Equal(t, int64(1), counts[model.StatusEnriched])
}

// --- Reports ---

func int64Ptr(v int64) *int64 { return &v }

func testReport() (model.Report, []model.MatchOutcome) {
	date := time.Date(2022, 8, 3, 0, 0, 0, 0, time.UTC)
	report := model.Report{Handle: "BibProcessingReport.txt", ProcessDate: date}
	outcomes := []model.MatchOutcome{
		{LocalID: 1, ProcessDate: date, StatusID: model.OutcomeMatch, ExternalID: int64Ptr(10)},
		{LocalID: 2, ProcessDate: date, StatusID: model.OutcomeMatch, ExternalID: int64Ptr(21), IdentifierChanged: true},
		{LocalID: 3, ProcessDate: date, StatusID: model.OutcomeUnresolved},
	}
	return report, outcomes
}

func TestSQLite_CreateReport(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	report, outcomes := testReport()

	got, err := st.CreateReport(ctx, report, outcomes)
	require.NoError(t, err)
	assert.NotZero(t, got.ID)
	assert.False(t, got.IngestedAt.IsZero())

	summary, err := st.OutcomeSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary[model.OutcomeMatch])
	assert.Equal(t, int64(1), summary[model.OutcomeUnresolved])
	assert.Equal(t, int64(0), summary[model.OutcomeCreate])
	assert.Len(t, summary, len(model.AllOutcomeCategories))

	changed, err := st.ChangedOutcomes(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(2), changed[0].LocalID)
	assert.Equal(t, got.ID, changed[0].ReportID)
	require.NotNil(t, changed[0].ExternalID)
	assert.Equal(t, int64(21), *changed[0].ExternalID)
	assert.True(t, report.ProcessDate.Equal(changed[0].ProcessDate))
}

func TestSQLite_CreateReport_Duplicate(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	report, outcomes := testReport()

	_, err := st.CreateReport(ctx, report, outcomes)
	require.NoError(t, err)

	_, err = st.CreateReport(ctx, report, outcomes)
	require.ErrorIs(t, err, ErrDuplicateReport)

	summary, err := st.OutcomeSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary[model.OutcomeMatch])
}

func TestSQLite_CreateReport_RollsBackOnBadOutcome(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	report, outcomes := testReport()
	outcomes = append(outcomes, model.MatchOutcome{LocalID: 4, ProcessDate: report.ProcessDate, StatusID: model.OutcomeCategory(9)})

	_, err := st.CreateReport(ctx, report, outcomes)
	require.Error(t, err)

	summary, err := st.OutcomeSummary(ctx)
	require.NoError(t, err)
	for _, n := range summary {
		assert.Zero(t, n)
	}

	// The handle was not consumed by the failed attempt.
	_, err = st.CreateReport(ctx, report, outcomes[:3])
	require.NoError(t, err)
}

func TestSQLite_DeleteReport(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	report, outcomes := testReport()

	got, err := st.CreateReport(ctx, report, outcomes)
	require.NoError(t, err)

	n, err := st.DeleteReport(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	_, err = st.DeleteReport(ctx, got.ID)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

// --- Holdings ---

func TestSQLite_HoldingsCandidates(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	added, err := st.AddHoldingsCandidate(ctx, model.HoldingsDeletionCandidate{ExternalID: 20, Title: "foo spam"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.AddHoldingsCandidate(ctx, model.HoldingsDeletionCandidate{ExternalID: 10, Title: "bar"})
	require.NoError(t, err)
	assert.True(t, added)

	added, err = st.AddHoldingsCandidate(ctx, model.HoldingsDeletionCandidate{ExternalID: 20, Title: "other"})
	require.NoError(t, err)
	assert.False(t, added)

	require.NoError(t, st.SetHoldingsKeep(ctx, 20, true))

	got, err := st.ListHoldingsCandidates(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.HoldingsDeletionCandidate{
		{ExternalID: 10, Title: "bar"},
		{ExternalID: 20, Title: "foo spam", Keep: true},
	}, got)
}

func TestSQLite_SetHoldingsKeep_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.SetHoldingsKeep(context.Background(), 1, true)
	require.ErrorIs(t, err, ErrRecordNotFound)
}

// --- Local identifiers ---

func TestSQLite_DuplicateExternalIDs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.ReplaceLocalIdentifiers(ctx, 1, []int64{100, 200}))
	require.NoError(t, st.ReplaceLocalIdentifiers(ctx, 2, []int64{100}))
	require.NoError(t, st.ReplaceLocalIdentifiers(ctx, 3, []int64{300, 300}))

	dups, err := st.DuplicateExternalIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[int64][]int64{100: {1, 2}}, dups)

	// Replacing drops the old links.
	require.NoError(t, st.ReplaceLocalIdentifiers(ctx, 2, []int64{400}))
	dups, err = st.DuplicateExternalIDs(ctx)
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: DriverSQLite, DatabaseURL: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	recs, err := st.SelectPending(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "mysql"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
