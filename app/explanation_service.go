package app

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/domain/features"
	"tenderwatch/internal/cache"
	"tenderwatch/internal/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/metrics"
	"tenderwatch/internal/risk"
	"tenderwatch/ports"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// scoreTolerance decides whether a cached set was generated for the same score.
const scoreTolerance = 1e-6

// ExplanationService answers "what would have to change for this tender to look clean?"
// It fronts the counterfactual engine with the cache, collapses duplicate concurrent requests
// and serializes cache writes per tender.
type ExplanationService struct {
	engine  *counterfactual.Engine
	cache   *cache.Cache
	rngPort ports.RNGPort
	metrics *metrics.Recorder

	seed             int64
	batchConcurrency int

	group singleflight.Group
	locks sync.Map // core.TenderID -> *sync.Mutex
}

// ServiceOptions configures an ExplanationService
type ServiceOptions struct {
	// Seed is the base seed for per-tender RNG streams; 0 draws a fresh seed per run.
	Seed             int64
	BatchConcurrency int
}

// Explanation is the answer for one tender
type Explanation struct {
	TenderID        string                    `json:"tender_id"`
	OriginalScore   float64                   `json:"original_score"`
	RiskLevel       risk.Level                `json:"risk_level"`
	TargetScore     float64                   `json:"target_score"`
	Outcome         counterfactual.Outcome    `json:"outcome"`
	Counterfactuals []domainCF.Counterfactual `json:"counterfactuals"`
	FromCache       bool                      `json:"from_cache"`
	GeneratedAt     time.Time                 `json:"generated_at"`
	RunID           string                    `json:"run_id,omitempty"`
}

// ScoreResult is a scored feature vector
type ScoreResult struct {
	Score float64    `json:"score"`
	Level risk.Level `json:"level"`
}

// BatchResult is one tender's outcome inside ExplainBatch
type BatchResult struct {
	TenderID    string       `json:"tender_id"`
	Explanation *Explanation `json:"explanation,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// NewExplanationService creates an explanation service
func NewExplanationService(engine *counterfactual.Engine, c *cache.Cache, rngPort ports.RNGPort, rec *metrics.Recorder, opts ServiceOptions) *ExplanationService {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	return &ExplanationService{
		engine:           engine,
		cache:            c,
		rngPort:          rngPort,
		metrics:          rec,
		seed:             opts.Seed,
		batchConcurrency: opts.BatchConcurrency,
	}
}

// Score applies the configured scorer
func (s *ExplanationService) Score(vec features.Vector) ScoreResult {
	score := math.Round(s.engine.Score(vec)*100) / 100
	return ScoreResult{Score: score, Level: risk.LevelFor(score)}
}

// Explain returns the tender's counterfactuals, from cache when they were generated for the same score.
// A cached set for a different score is stale and is replaced.
func (s *ExplanationService) Explain(ctx context.Context, tender features.Tender) (*Explanation, error) {
	return s.run(ctx, tender, false)
}

// Refresh discards any cached set and regenerates.
func (s *ExplanationService) Refresh(ctx context.Context, tender features.Tender) (*Explanation, error) {
	return s.run(ctx, tender, true)
}

func (s *ExplanationService) run(ctx context.Context, tender features.Tender, refresh bool) (*Explanation, error) {
	tenderID, err := core.ParseTenderID(tender.ID)
	if err != nil {
		return nil, rejectInput(err)
	}
	if finite := tender.Features.Finite(); len(finite) != len(tender.Features) {
		log.Printf("[ExplanationService] Tender %s: ignoring %d non-finite feature values", tenderID, len(tender.Features)-len(finite))
		tender.Features = finite
	} else if tender.Features == nil {
		tender.Features = features.Vector{}
	}

	var score float64
	if tender.Score != nil {
		score = *tender.Score
	} else {
		score = s.engine.Score(tender.Features)
	}
	if math.IsNaN(score) || score < 0 || score > 100 {
		return nil, rejectInput(core.NewScoreError(score))
	}

	key := fmt.Sprintf("%s|%t|%s", tenderID, refresh, core.ComputeInputHash(tender.Features, score))
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.explain(ctx, tenderID, tender.Features, score, refresh)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Printf("[ExplanationService] Shared in-flight result for tender %s", tenderID)
	}
	return v.(*Explanation).clone(), nil
}

// explain holds the tender's lock from the cache check through the save, so a run for an older
// score cannot overwrite the set of a newer one.
func (s *ExplanationService) explain(ctx context.Context, tenderID core.TenderID, vec features.Vector, score float64, refresh bool) (*Explanation, error) {
	mu := s.lockFor(tenderID)
	mu.Lock()
	defer mu.Unlock()

	if refresh {
		s.cache.Invalidate(ctx, tenderID)
	} else if cached := s.cache.GetCached(ctx, tenderID); cached != nil {
		if math.Abs(cached[0].OriginalScore-score) <= scoreTolerance {
			s.metrics.ObserveLookup(metrics.LookupHit)
			return s.fromCache(tenderID, cached), nil
		}
		s.metrics.ObserveLookup(metrics.LookupStale)
		log.Printf("[ExplanationService] Cached set for tender %s was built for score %.2f, now %.2f; regenerating",
			tenderID, cached[0].OriginalScore, score)
		s.cache.Invalidate(ctx, tenderID)
	} else if s.cache.Enabled() {
		s.metrics.ObserveLookup(metrics.LookupMiss)
	}

	rng, err := s.rngPort.Stream(ctx, tenderID.String(), "counterfactual", s.seed)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create RNG stream for tender %s", tenderID)
	}

	cfs, run := s.engine.GenerateWithStats(vec, score, counterfactual.GenerateOptions{Rand: rng})
	log.Printf("[ExplanationService] Run %s for tender %s: outcome=%s generations=%d early_stop=%t best=%.2f below_target=%d median_fitness=%.2f returned=%d in %.2fms",
		run.RunID, tenderID, run.Outcome, run.Generations, run.EarlyStopped, run.BestScore, run.BelowTarget,
		run.MedianFitness, run.Returned, float64(run.Duration.Nanoseconds())/1e6)
	s.metrics.ObserveRun(string(run.Outcome), run.Generations, run.Returned, run.Duration)

	if len(cfs) > 0 {
		s.cache.Save(ctx, tenderID, score, cfs)
	}

	return &Explanation{
		TenderID:        tenderID.String(),
		OriginalScore:   score,
		RiskLevel:       risk.LevelFor(score),
		TargetScore:     s.engine.Config().TargetScore,
		Outcome:         run.Outcome,
		Counterfactuals: cfs,
		GeneratedAt:     time.Now().UTC(),
		RunID:           run.RunID.String(),
	}, nil
}

func (s *ExplanationService) fromCache(tenderID core.TenderID, cached []domainCF.Cached) *Explanation {
	cfs := make([]domainCF.Counterfactual, len(cached))
	outcome := counterfactual.OutcomeTargetMet
	for i, c := range cached {
		cfs[i] = c.Counterfactual
		if !c.MeetsTarget {
			outcome = counterfactual.OutcomeBestEffort
		}
	}
	return &Explanation{
		TenderID:        tenderID.String(),
		OriginalScore:   cached[0].OriginalScore,
		RiskLevel:       risk.LevelFor(cached[0].OriginalScore),
		TargetScore:     s.engine.Config().TargetScore,
		Outcome:         outcome,
		Counterfactuals: cfs,
		FromCache:       true,
		GeneratedAt:     cached[0].GeneratedAt,
	}
}

// Cached returns the tender's cached explanation without running the engine.
func (s *ExplanationService) Cached(ctx context.Context, tenderID string) (*Explanation, error) {
	id, err := core.ParseTenderID(tenderID)
	if err != nil {
		return nil, rejectInput(err)
	}
	cached := s.cache.GetCached(ctx, id)
	if cached == nil {
		return nil, errors.WithCode(errors.CodeNotFound, fmt.Errorf("%w for tender %s", core.ErrNoCachedExplanation, id))
	}
	return s.fromCache(id, cached), nil
}

// Actionable keeps the counterfactuals whose edits are realistic to carry out.
func (s *ExplanationService) Actionable(cfs []domainCF.Counterfactual) []domainCF.Counterfactual {
	return counterfactual.ActionableChanges(s.engine.Model(), cfs)
}

// Invalidate drops the tender's cached set.
func (s *ExplanationService) Invalidate(ctx context.Context, tenderID string) (bool, error) {
	id, err := core.ParseTenderID(tenderID)
	if err != nil {
		return false, rejectInput(err)
	}
	return s.invalidateLocked(ctx, id), nil
}

// CacheStats summarises the cache.
func (s *ExplanationService) CacheStats(ctx context.Context) domainCF.CacheStats {
	return s.cache.Stats(ctx)
}

// CacheEnabled reports whether results are persisted.
func (s *ExplanationService) CacheEnabled() bool {
	return s.cache.Enabled()
}

// ExplainBatch explains tenders with bounded concurrency. A failing tender is reported in its
// own result and never cancels the others. Results keep the input order.
func (s *ExplanationService) ExplainBatch(ctx context.Context, tenders []features.Tender) []BatchResult {
	results := make([]BatchResult, len(tenders))
	started := time.Now()

	var g errgroup.Group
	g.SetLimit(s.batchConcurrency)
	for i, tender := range tenders {
		g.Go(func() error {
			results[i].TenderID = tender.ID
			if err := ctx.Err(); err != nil {
				results[i].Error = err.Error()
				return nil
			}
			explanation, err := s.Explain(ctx, tender)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Explanation = explanation
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	log.Printf("[ExplanationService] Batch of %d tenders finished in %.2fms (%d failed, concurrency %d)",
		len(tenders), float64(time.Since(started).Nanoseconds())/1e6, failed, s.batchConcurrency)
	return results
}

func (s *ExplanationService) invalidateLocked(ctx context.Context, tenderID core.TenderID) bool {
	mu := s.lockFor(tenderID)
	mu.Lock()
	defer mu.Unlock()
	return s.cache.Invalidate(ctx, tenderID)
}

// rejectInput classifies a tender validation failure as INVALID_INPUT.
func rejectInput(err error) error {
	if core.IsValidationError(err) {
		return errors.WithCode(errors.CodeInvalidInput, err)
	}
	return errors.Wrap(err, "invalid tender")
}

func (s *ExplanationService) lockFor(tenderID core.TenderID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(tenderID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (e *Explanation) clone() *Explanation {
	out := *e
	out.Counterfactuals = make([]domainCF.Counterfactual, len(e.Counterfactuals))
	for i, cf := range e.Counterfactuals {
		out.Counterfactuals[i] = cf.Clone()
	}
	return &out
}
