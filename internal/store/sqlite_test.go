package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/grant-scorer/internal/model"
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

func ptrFloat64(v float64) *float64 { return &v }

func sampleRecord(approved bool) *model.DecisionRecord {
	res := model.ScoreResult{
		Approved: approved,
		Decision: model.DecisionFor(approved),
		Prob:     ptrFloat64(0.42),
		Reasons:  []string{"middle & distance ≤30km"},
	}
	if approved {
		res.Amount = 5697
		res.Reasons = []string{"middle & distance >30km"}
	}
	return &model.DecisionRecord{
		Applicant: model.Applicant{DistanceKm: 31.5, ResidencyYearsIE: 2, ParentsStatus: model.ParentsMiddle},
		Result:    res,
		UseML:     true,
		Threshold: 0.5,
	}
}

func TestSQLite_SaveAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord(true)
	require.NoError(t, st.SaveDecision(ctx, rec))
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())

	got, err := st.GetDecision(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Applicant, got.Applicant)
	assert.Equal(t, rec.Result, got.Result)
	assert.True(t, got.UseML)
	assert.InDelta(t, 0.5, got.Threshold, 0)
	assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetDecision(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListFiltersAndOrder(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		rec := sampleRecord(i%2 == 0)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.SaveDecision(ctx, rec))
	}

	all, err := st.ListDecisions(ctx, DecisionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].CreatedAt.After(all[i].CreatedAt), "expected newest first")
	}

	approved, err := st.ListDecisions(ctx, DecisionFilter{Decision: model.DecisionApprove})
	require.NoError(t, err)
	assert.Len(t, approved, 3)
	for _, r := range approved {
		assert.True(t, r.Result.Approved)
	}

	recent, err := st.ListDecisions(ctx, DecisionFilter{CreatedAfter: base.Add(2*time.Minute + time.Second)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	bounded, err := st.ListDecisions(ctx, DecisionFilter{CreatedBefore: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, bounded, 3, "upper bound is inclusive")
	assert.Equal(t, all[2].ID, bounded[0].ID)

	page, err := st.ListDecisions(ctx, DecisionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestSQLite_DuplicateID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord(false)
	rec.ID = "fixed-id"
	require.NoError(t, st.SaveDecision(ctx, rec))

	dup := sampleRecord(true)
	dup.ID = "fixed-id"
	err := st.SaveDecision(ctx, dup)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sqlite: insert decision")
}

func TestSQLite_RulesOnlyRecordHasNoProb(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord(true)
	rec.Result.Prob = nil
	rec.UseML = false
	require.NoError(t, st.SaveDecision(ctx, rec))

	got, err := st.GetDecision(ctx, rec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Result.Prob)
	assert.False(t, got.UseML)
}
