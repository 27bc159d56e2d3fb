package counterfactual

import (
	"sort"
	"time"
)

// Change is one edited feature inside a counterfactual.
type Change struct {
	From          float64 `json:"from"`
	To            float64 `json:"to"`
	Description   string  `json:"description"`
	DescriptionMK string  `json:"description_mk,omitempty"`
}

// Counterfactual is a minimal set of feature edits and the score they would produce.
type Counterfactual struct {
	ChangedFeatures     map[string]Change `json:"changed_features"`
	CounterfactualScore float64           `json:"counterfactual_score"`
	Distance            float64           `json:"distance"`
	Feasibility         float64           `json:"feasibility"`
	NumChanges          int               `json:"num_changes"`
	// MeetsTarget is false for best-effort results that did not cross the target score.
	MeetsTarget bool `json:"meets_target"`
}

// ChangedKeys returns the names of the changed features, sorted.
func (c Counterfactual) ChangedKeys() []string {
	keys := make([]string, 0, len(c.ChangedFeatures))
	for k := range c.ChangedFeatures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a copy whose ChangedFeatures map is independent of c.
func (c Counterfactual) Clone() Counterfactual {
	out := c
	out.ChangedFeatures = make(map[string]Change, len(c.ChangedFeatures))
	for k, v := range c.ChangedFeatures {
		out.ChangedFeatures[k] = v
	}
	return out
}

// Cached is a counterfactual read back from the cache.
type Cached struct {
	Counterfactual
	TenderID      string    `json:"tender_id"`
	OriginalScore float64   `json:"original_score"`
	GeneratedAt   time.Time `json:"generated_at"`
	Cached        bool      `json:"cached"`
}

// CacheStats summarises the cache contents.
type CacheStats struct {
	TotalCached   int        `json:"total_cached"`
	UniqueTenders int        `json:"unique_tenders"`
	AvgPerTender  float64    `json:"avg_per_tender"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
}
