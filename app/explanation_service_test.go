package app

import (
	"context"
	"math"
	"sync"
	"testing"

	"tenderwatch/adapters/postgres"
	"tenderwatch/adapters/rng"
	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/domain/features"
	"tenderwatch/internal/cache"
	"tenderwatch/internal/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/metrics"
	"tenderwatch/internal/migration"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fixture struct {
	service *ExplanationService
	repo    *postgres.CounterfactualRepository
	metrics *metrics.Recorder
}

func newFixture(t *testing.T, seed int64) fixture {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	require.NoError(t, migration.NewRunner().Run(context.Background(), db))

	repo := postgres.NewCounterfactualRepository(db)
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	engine := counterfactual.NewEngine(features.DefaultModel(), nil, nil, counterfactual.DefaultConfig())
	service := NewExplanationService(engine, cache.New(repo, rec), rng.NewSeededAdapter(), rec,
		ServiceOptions{Seed: seed, BatchConcurrency: 2})
	return fixture{service: service, repo: repo, metrics: rec}
}

func scored(id string, score float64, vec features.Vector) features.Tender {
	return features.Tender{ID: id, Features: vec, Score: &score}
}

func singleBidderTender(id string) features.Tender {
	return scored(id, 65, features.Vector{features.SingleBidder: 1, features.NumBidders: 1})
}

func TestExplainCachesResults(t *testing.T) {
	f := newFixture(t, 7)
	ctx := context.Background()

	first, err := f.service.Explain(ctx, singleBidderTender("T1"))
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Equal(t, counterfactual.OutcomeTargetMet, first.Outcome)
	assert.Equal(t, 30.0, first.TargetScore)
	require.NotEmpty(t, first.Counterfactuals)
	assert.NotEmpty(t, first.RunID)

	second, err := f.service.Explain(ctx, singleBidderTender("T1"))
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 65.0, second.OriginalScore)
	assert.Len(t, second.Counterfactuals, len(first.Counterfactuals))
	assert.Equal(t, counterfactual.OutcomeTargetMet, second.Outcome)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues(metrics.LookupMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues(metrics.LookupHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Runs.WithLabelValues(string(counterfactual.OutcomeTargetMet))))
}

func TestExplainRegeneratesWhenScoreChanges(t *testing.T) {
	f := newFixture(t, 7)
	ctx := context.Background()
	vec := features.Vector{features.SingleBidder: 1, features.NumBidders: 1}

	_, err := f.service.Explain(ctx, scored("T1", 65, vec))
	require.NoError(t, err)

	updated, err := f.service.Explain(ctx, scored("T1", 70, vec))
	require.NoError(t, err)
	assert.False(t, updated.FromCache)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheLookups.WithLabelValues(metrics.LookupStale)))

	cached, err := f.repo.GetCached(ctx, "T1")
	require.NoError(t, err)
	require.NotEmpty(t, cached)
	for _, c := range cached {
		assert.Equal(t, 70.0, c.OriginalScore)
	}
}

func TestExplainComputesMissingScore(t *testing.T) {
	f := newFixture(t, 3)
	tender := features.Tender{ID: "T5", Features: features.Vector{features.SingleBidder: 1, features.NumBidders: 1}}

	got, err := f.service.Explain(context.Background(), tender)
	require.NoError(t, err)
	// The default scorer rates a lone single-bidder flag at 100.
	assert.Equal(t, 100.0, got.OriginalScore)
	assert.NotEmpty(t, got.Counterfactuals)
}

func TestExplainNoActionNeeded(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	got, err := f.service.Explain(ctx, scored("T2", 20, features.Vector{features.SingleBidder: 1}))
	require.NoError(t, err)
	assert.Empty(t, got.Counterfactuals)
	assert.Equal(t, counterfactual.OutcomeNoActionNeeded, got.Outcome)

	_, err = f.service.Cached(ctx, "T2")
	require.Error(t, err)
	assert.Equal(t, errors.CodeNotFound, errors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrNoCachedExplanation)
}

func TestExplainRejectsInvalidInput(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	tests := []struct {
		name   string
		tender features.Tender
	}{
		{"missing id", scored(" ", 60, features.Vector{})},
		{"score above range", scored("T1", 140, features.Vector{})},
		{"negative score", scored("T1", -1, features.Vector{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Explain(ctx, tt.tender)
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidInput, errors.GetCode(err))
			assert.True(t, core.IsValidationError(err))
		})
	}
}

func TestRefreshAndInvalidate(t *testing.T) {
	f := newFixture(t, 11)
	ctx := context.Background()

	_, err := f.service.Explain(ctx, singleBidderTender("T1"))
	require.NoError(t, err)

	refreshed, err := f.service.Refresh(ctx, singleBidderTender("T1"))
	require.NoError(t, err)
	assert.False(t, refreshed.FromCache)

	cached, err := f.service.Cached(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, cached.FromCache)
	assert.Len(t, cached.Counterfactuals, len(refreshed.Counterfactuals))

	removed, err := f.service.Invalidate(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.service.Invalidate(ctx, "T1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestConcurrentExplainKeepsOneSet(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.service.Explain(ctx, singleBidderTender("T1"))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	stats := f.service.CacheStats(ctx)
	assert.Equal(t, 1, stats.UniqueTenders)
	assert.LessOrEqual(t, stats.TotalCached, counterfactual.DefaultConfig().TopK)
}

func TestExplainBatch(t *testing.T) {
	f := newFixture(t, 9)
	tenders := []features.Tender{
		singleBidderTender("T1"),
		scored("", 80, features.Vector{features.SingleBidder: 1}),
		scored("T3", 10, features.Vector{}),
		singleBidderTender("T4"),
	}

	results := f.service.ExplainBatch(context.Background(), tenders)
	require.Len(t, results, 4)

	assert.Equal(t, "T1", results[0].TenderID)
	assert.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Explanation)
	assert.NotEmpty(t, results[0].Explanation.Counterfactuals)

	assert.NotEmpty(t, results[1].Error)
	assert.Nil(t, results[1].Explanation)

	require.NotNil(t, results[2].Explanation)
	assert.Equal(t, counterfactual.OutcomeNoActionNeeded, results[2].Explanation.Outcome)

	assert.Equal(t, "T4", results[3].TenderID)
	assert.Empty(t, results[3].Error)
}

func TestExplainBatchCancelled(t *testing.T) {
	f := newFixture(t, 9)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.service.ExplainBatch(ctx, []features.Tender{singleBidderTender("T1")})
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Error, "context canceled")
}

func TestSeededServicesAgree(t *testing.T) {
	engine := counterfactual.NewEngine(features.DefaultModel(), nil, nil, counterfactual.DefaultConfig())
	newService := func() *ExplanationService {
		return NewExplanationService(engine, cache.New(nil, nil), rng.NewSeededAdapter(), nil, ServiceOptions{Seed: 42})
	}
	tender := scored("T-77", 72, features.Vector{
		features.SingleBidder: 1,
		features.NumBidders:   2,
		features.PriceAnomaly: 55,
		features.RepeatWinner: 1,
	})

	a, err := newService().Explain(context.Background(), tender)
	require.NoError(t, err)
	b, err := newService().Explain(context.Background(), tender)
	require.NoError(t, err)
	assert.Equal(t, a.Counterfactuals, b.Counterfactuals)
}

func TestScoreAndActionable(t *testing.T) {
	f := newFixture(t, 1)

	result := f.service.Score(features.Vector{features.SingleBidder: 1})
	assert.Equal(t, 100.0, result.Score)
	assert.Equal(t, "critical", string(result.Level))
	assert.Equal(t, 0.0, f.service.Score(features.Vector{}).Score)

	cfs := []domainCF.Counterfactual{
		{ChangedFeatures: map[string]domainCF.Change{features.SingleBidder: {From: 1, To: 0}}, Feasibility: 0.8, NumChanges: 1},
		{ChangedFeatures: map[string]domainCF.Change{features.PriceAnomaly: {From: 90, To: 10}}, Feasibility: 0.3, NumChanges: 1},
	}
	got := f.service.Actionable(cfs)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].ChangedFeatures, features.SingleBidder)
}

// recordingStore logs the order of store calls around a real repository.
type recordingStore struct {
	*postgres.CounterfactualRepository
	mu  sync.Mutex
	ops []string
}

func (r *recordingStore) record(op string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

func (r *recordingStore) GetCached(ctx context.Context, id core.TenderID) ([]domainCF.Cached, error) {
	r.record("get")
	return r.CounterfactualRepository.GetCached(ctx, id)
}

func (r *recordingStore) Invalidate(ctx context.Context, id core.TenderID) (bool, error) {
	r.record("invalidate")
	return r.CounterfactualRepository.Invalidate(ctx, id)
}

func (r *recordingStore) Save(ctx context.Context, id core.TenderID, score float64, cfs []domainCF.Counterfactual) (int, error) {
	r.record("save")
	return r.CounterfactualRepository.Save(ctx, id, score, cfs)
}

func TestConcurrentScoresForOneTenderDoNotInterleave(t *testing.T) {
	f := newFixture(t, 5)
	store := &recordingStore{CounterfactualRepository: f.repo}
	engine := counterfactual.NewEngine(features.DefaultModel(), nil, nil, counterfactual.DefaultConfig())
	service := NewExplanationService(engine, cache.New(store, nil), rng.NewSeededAdapter(), nil, ServiceOptions{Seed: 5})
	vec := features.Vector{features.SingleBidder: 1, features.NumBidders: 1}

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Explain(context.Background(), scored("T1", 60+float64(i), vec))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Each run reads, optionally drops a stale set, then saves before the next run reads.
	ops := store.ops
	for i := 0; i < len(ops); {
		require.Equal(t, "get", ops[i], "ops %v", ops)
		i++
		if i < len(ops) && ops[i] == "invalidate" {
			i++
		}
		require.Less(t, i, len(ops), "ops %v", ops)
		require.Equal(t, "save", ops[i], "ops %v", ops)
		i++
	}
}

func TestExplainIgnoresNonFiniteFeatures(t *testing.T) {
	f := newFixture(t, 3)
	tender := features.Tender{ID: "T9", Features: features.Vector{
		features.SingleBidder:      1,
		features.PriceAnomaly:      math.Inf(1),
		features.EstimatedValueMKD: math.NaN(),
	}}

	got, err := f.service.Explain(context.Background(), tender)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.OriginalScore)
	require.NotEmpty(t, got.Counterfactuals)

	cached, err := f.service.Cached(context.Background(), "T9")
	require.NoError(t, err)
	assert.Len(t, cached.Counterfactuals, len(got.Counterfactuals))
}
