package ports

import (
	"context"

	"tenderwatch/domain/core"
	domainCF "tenderwatch/domain/counterfactual"
)

// CounterfactualStore persists generated counterfactual sets per tender.
type CounterfactualStore interface {
	// GetCached returns the cached set ordered by (distance, num_changes) ascending.
	// An empty slice with nil error means nothing is cached.
	GetCached(ctx context.Context, tenderID core.TenderID) ([]domainCF.Cached, error)

	// Save replaces the tender's cached set and returns the rows written.
	Save(ctx context.Context, tenderID core.TenderID, originalScore float64, cfs []domainCF.Counterfactual) (int, error)

	// Invalidate deletes the tender's cached set and reports whether anything was removed.
	Invalidate(ctx context.Context, tenderID core.TenderID) (bool, error)

	Stats(ctx context.Context) (domainCF.CacheStats, error)
}
