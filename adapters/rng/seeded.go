package rng

import (
	"context"
	"math/rand"
	"time"

	"tenderwatch/ports"
)

// SeededAdapter implements ports.RNGPort with math/rand sources.
// A zero base seed asks for a fresh, time-seeded stream.
type SeededAdapter struct {
	now func() time.Time
}

var _ ports.RNGPort = (*SeededAdapter)(nil)

// NewSeededAdapter creates an RNG adapter
func NewSeededAdapter() *SeededAdapter {
	return &SeededAdapter{now: time.Now}
}

// Stream creates a deterministic RNG stream for a tender and purpose
func (r *SeededAdapter) Stream(ctx context.Context, tenderID, purpose string, baseSeed int64) (*rand.Rand, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := baseSeed
	if seed == 0 {
		seed = r.now().UnixNano()
	}
	if tenderID != "" {
		seed = int64(hashString(tenderID)) + seed
	}
	if purpose != "" {
		seed = int64(hashString(purpose)) + seed
	}
	return rand.New(rand.NewSource(seed)), nil
}

// hashString creates a simple hash for deterministic seeding
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for _, c := range s {
		hash = ((hash << 5) + hash) + uint32(c) // djb2
	}
	return hash
}
