package postgres

import (
	"context"
	"testing"
	"time"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/migration"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestRepository(t *testing.T) (*CounterfactualRepository, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	// One connection, so every query sees the same in-memory database.
	db.SetMaxOpenConns(1)

	require.NoError(t, migration.NewRunner().Run(context.Background(), db))
	return NewCounterfactualRepository(db), db
}

func sampleCounterfactuals() []domainCF.Counterfactual {
	return []domainCF.Counterfactual{
		{
			ChangedFeatures: map[string]domainCF.Change{
				"single_bidder": {From: 1, To: 0, Description: "Attract at least one additional competing bid"},
			},
			CounterfactualScore: 0,
			Distance:            0.5,
			Feasibility:         0.8,
			NumChanges:          1,
			MeetsTarget:         true,
		},
		{
			ChangedFeatures: map[string]domainCF.Change{
				"num_bidders":   {From: 1, To: 4},
				"price_anomaly": {From: 60, To: 20.5},
			},
			CounterfactualScore: 27.35,
			Distance:            0.2,
			Feasibility:         0.5123,
			NumChanges:          2,
			MeetsTarget:         true,
		},
		{
			ChangedFeatures:     map[string]domainCF.Change{"repeat_winner": {From: 1, To: 0}},
			CounterfactualScore: 12,
			Distance:            0.2,
			Feasibility:         0.8,
			NumChanges:          1,
			MeetsTarget:         true,
		},
	}
}

func TestSaveThenGetCachedRoundTrip(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()
	cfs := sampleCounterfactuals()

	written, err := repo.Save(ctx, "T1", 72.0, cfs)
	require.NoError(t, err)
	assert.Equal(t, len(cfs), written)

	got, err := repo.GetCached(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, got, len(cfs))

	// Ordered by distance, then num_changes.
	assert.Equal(t, []string{"repeat_winner"}, got[0].ChangedKeys())
	assert.Equal(t, []string{"num_bidders", "price_anomaly"}, got[1].ChangedKeys())
	assert.Equal(t, []string{"single_bidder"}, got[2].ChangedKeys())

	byKeys := map[string]domainCF.Counterfactual{}
	for _, cf := range cfs {
		byKeys[cf.ChangedKeys()[0]] = cf
	}
	for _, c := range got {
		want := byKeys[c.ChangedKeys()[0]]
		assert.True(t, c.Cached)
		assert.Equal(t, "T1", c.TenderID)
		assert.InDelta(t, 72.0, c.OriginalScore, 1e-9)
		assert.InDelta(t, want.Distance, c.Distance, 1e-9)
		assert.InDelta(t, want.Feasibility, c.Feasibility, 1e-9)
		assert.InDelta(t, want.CounterfactualScore, c.CounterfactualScore, 1e-9)
		assert.Equal(t, want.NumChanges, c.NumChanges)
		assert.Equal(t, want.MeetsTarget, c.MeetsTarget)
		assert.Equal(t, want.ChangedFeatures, c.ChangedFeatures)
		assert.WithinDuration(t, time.Now(), c.GeneratedAt, time.Minute)
	}
}

func TestSaveReplacesPreviousSet(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, "T1", 72.0, sampleCounterfactuals())
	require.NoError(t, err)
	written, err := repo.Save(ctx, "T1", 70.0, sampleCounterfactuals()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM counterfactual_cache WHERE tender_id = 'T1'`))
	assert.Equal(t, 1, count)

	got, err := repo.GetCached(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 70.0, got[0].OriginalScore, 1e-9)
}

func TestSaveIsolatesTenders(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Save(ctx, "T1", 72.0, sampleCounterfactuals())
	require.NoError(t, err)
	_, err = repo.Save(ctx, "T2", 55.0, sampleCounterfactuals()[:2])
	require.NoError(t, err)
	_, err = repo.Save(ctx, "T2", 55.0, nil)
	require.NoError(t, err)

	t1, err := repo.GetCached(ctx, "T1")
	require.NoError(t, err)
	assert.Len(t, t1, 3)
	t2, err := repo.GetCached(ctx, "T2")
	require.NoError(t, err)
	assert.Empty(t, t2)
}

func TestInvalidate(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	removed, err := repo.Invalidate(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = repo.Save(ctx, "T1", 72.0, sampleCounterfactuals())
	require.NoError(t, err)

	removed, err = repo.Invalidate(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := repo.GetCached(ctx, "T1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStats(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	empty, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domainCF.CacheStats{}, empty)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(2 * time.Hour)
	repo.now = func() time.Time { return first }
	_, err = repo.Save(ctx, "T1", 72.0, sampleCounterfactuals())
	require.NoError(t, err)
	repo.now = func() time.Time { return second }
	_, err = repo.Save(ctx, "T2", 64.0, sampleCounterfactuals()[:1])
	require.NoError(t, err)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalCached)
	assert.Equal(t, 2, stats.UniqueTenders)
	assert.InDelta(t, 2.0, stats.AvgPerTender, 1e-9)
	require.NotNil(t, stats.Oldest)
	require.NotNil(t, stats.Newest)
	assert.True(t, first.Equal(*stats.Oldest), "oldest %v", stats.Oldest)
	assert.True(t, second.Equal(*stats.Newest), "newest %v", stats.Newest)
}

func TestGetCachedCoercesMalformedFeatures(t *testing.T) {
	repo, db := newTestRepository(t)
	ctx := context.Background()

	for _, payload := range []string{"not json", "[1,2,3]", "null"} {
		_, err := db.Exec(`
			INSERT INTO counterfactual_cache (tender_id, original_score, counterfactual_features, counterfactual_score,
			                                  distance, feasibility_score, num_changes, meets_target, generated_at)
			VALUES ('T9', 60, ?, 25, 0.1, 0.7, 1, 1, ?)`, payload, time.Now().UTC())
		require.NoError(t, err)
	}

	got, err := repo.GetCached(ctx, "T9")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.NotNil(t, c.ChangedFeatures)
		assert.Empty(t, c.ChangedFeatures)
		assert.InDelta(t, 25.0, c.CounterfactualScore, 1e-9)
	}
}

func TestRepositoryErrorsWithoutSchema(t *testing.T) {
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)
	repo := NewCounterfactualRepository(db)
	ctx := context.Background()

	_, err = repo.GetCached(ctx, core.TenderID("T1"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabaseError, errors.GetCode(err))

	_, err = repo.Save(ctx, "T1", 50, sampleCounterfactuals())
	assert.Error(t, err)
	_, err = repo.Stats(ctx)
	assert.Error(t, err)
}
