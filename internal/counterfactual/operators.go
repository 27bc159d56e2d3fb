package counterfactual

import (
	"math/rand"
	"sort"

	"tenderwatch/domain/features"
)

// RandomValue draws a fresh value for def anchored at the original value.
// Binary flags jump to the allowed end; numeric kinds sample uniformly on the allowed side of original.
func RandomValue(rng *rand.Rand, def features.Definition, original float64) float64 {
	return opsFor(def.Kind).sample(rng, def, original)
}

// Mutate returns a copy of candidate where each mutable feature is resampled with probability rate.
// Samples are anchored at the original vector so drift stays bounded across generations.
func Mutate(rng *rand.Rand, model *features.Model, candidate, original features.Vector, rate float64) features.Vector {
	child := candidate.Clone()
	for _, name := range model.MutablePresent(candidate) {
		if rng.Float64() >= rate {
			continue
		}
		def, _ := model.Lookup(name)
		child[name] = RandomValue(rng, def, original.Get(name))
	}
	return child
}

// Crossover builds a child taking each feature from a or b with equal probability.
func Crossover(rng *rand.Rand, a, b features.Vector) features.Vector {
	child := make(features.Vector, len(a))
	for _, name := range unionKeys(a, b) {
		av, inA := a[name]
		bv, inB := b[name]
		pickA := rng.Float64() < 0.5
		switch {
		case pickA && inA, !inB:
			child[name] = av
		default:
			child[name] = bv
		}
	}
	return child
}

// Enforce returns a copy of candidate that satisfies the model's constraints relative to original:
// immutable features restored, values clamped into their domain, and the declared direction respected.
func Enforce(model *features.Model, candidate, original features.Vector) features.Vector {
	out := candidate.Clone()

	for _, name := range model.Immutable() {
		if v, ok := original[name]; ok {
			out[name] = v
		} else {
			delete(out, name)
		}
	}

	for name, value := range out {
		def, ok := model.Lookup(name)
		if !ok || !def.Mutable {
			continue
		}
		v := opsFor(def.Kind).clamp(def, value)
		orig, hasOrig := original[name]
		if hasOrig {
			switch def.Direction {
			case features.DirectionDecrease:
				if v > orig {
					v = orig
				}
			case features.DirectionIncrease:
				if v < orig {
					v = orig
				}
			}
		}
		out[name] = v
	}
	return out
}

func unionKeys(a, b features.Vector) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
