package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder holds the counterfactual engine and cache collectors.
type Recorder struct {
	// Search runs by outcome (target_met, best_effort, no_edit_found, no_action_needed)
	Runs *prometheus.CounterVec

	// Generations evolved per run, early stops included
	Generations prometheus.Histogram

	// Wall-clock time of one search run
	RunDuration prometheus.Histogram

	// Counterfactuals returned per run
	Returned prometheus.Histogram

	// Cache lookups by result (hit, miss, stale, error)
	CacheLookups *prometheus.CounterVec

	// Store failures absorbed by the cache layer, by operation
	CacheErrors *prometheus.CounterVec
}

// NewRecorder creates the collectors and registers them with reg.
// Passing prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counterfactual_runs_total",
			Help: "Total number of counterfactual search runs by outcome",
		}, []string{"outcome"}),
		Generations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counterfactual_generations",
			Help:    "Generations evolved per counterfactual search run",
			Buckets: []float64{0, 10, 25, 34, 50, 75, 100, 200},
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counterfactual_run_duration_seconds",
			Help:    "Duration of counterfactual search runs",
			Buckets: prometheus.DefBuckets,
		}),
		Returned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counterfactual_returned",
			Help:    "Counterfactuals returned per search run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 10},
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counterfactual_cache_lookups_total",
			Help: "Counterfactual cache lookups by result",
		}, []string{"result"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counterfactual_cache_errors_total",
			Help: "Store failures absorbed by the counterfactual cache, by operation",
		}, []string{"operation"}),
	}

	if reg != nil {
		reg.MustRegister(
			r.Runs,
			r.Generations,
			r.RunDuration,
			r.Returned,
			r.CacheLookups,
			r.CacheErrors,
		)
	}
	return r
}

// ObserveRun records one search run.
func (r *Recorder) ObserveRun(outcome string, generations, returned int, duration time.Duration) {
	if r == nil {
		return
	}
	r.Runs.WithLabelValues(outcome).Inc()
	r.Generations.Observe(float64(generations))
	r.Returned.Observe(float64(returned))
	r.RunDuration.Observe(duration.Seconds())
}

// Cache lookup results
const (
	LookupHit   = "hit"
	LookupMiss  = "miss"
	LookupStale = "stale"
	LookupError = "error"
)

// ObserveLookup records one cache lookup.
func (r *Recorder) ObserveLookup(result string) {
	if r == nil {
		return
	}
	r.CacheLookups.WithLabelValues(result).Inc()
}

// ObserveCacheError records a store failure the cache absorbed.
func (r *Recorder) ObserveCacheError(operation string) {
	if r == nil {
		return
	}
	r.CacheErrors.WithLabelValues(operation).Inc()
}
