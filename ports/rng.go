package ports

import (
	"context"
	"math/rand"
)

// RNGPort provides seeded random number generation for deterministic operations
type RNGPort interface {
	// Stream creates a deterministic RNG stream for one tender's counterfactual search.
	// The same (tenderID, purpose, baseSeed) always yields the same sequence.
	Stream(ctx context.Context, tenderID, purpose string, baseSeed int64) (*rand.Rand, error)
}
