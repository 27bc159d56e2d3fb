package counterfactual

import (
	"math"
	"math/rand"

	"tenderwatch/domain/features"
)

// kindOps holds the per-kind behaviour shared by the operators and evaluators.
type kindOps interface {
	// sample draws a value respecting the definition's range and direction, anchored at original.
	sample(rng *rand.Rand, def features.Definition, original float64) float64
	// clamp forces v into the valid domain of def.
	clamp(def features.Definition, v float64) float64
	// delta is the normalised distance contribution between a and b.
	delta(def features.Definition, a, b float64) float64
	// changed reports whether a and b differ beyond the kind's epsilon.
	changed(a, b float64) bool
	// present formats a value for output.
	present(v float64) float64
	// feasibility scores how easy the edit from -> to is, in (0,1].
	feasibility(def features.Definition, from, to float64) float64
}

var (
	binaryKind      kindOps = binaryOps{}
	integerKind     kindOps = integerOps{}
	continuousKind  kindOps = continuousOps{}
	categoricalKind kindOps = categoricalOps{}
)

func opsFor(k features.Kind) kindOps {
	switch k {
	case features.Binary:
		return binaryKind
	case features.Integer:
		return integerKind
	case features.Continuous:
		return continuousKind
	case features.Categorical:
		return categoricalKind
	default:
		return continuousKind
	}
}

// sampleBounds narrows the definition's range to the side allowed by its direction.
func sampleBounds(def features.Definition, original float64) (float64, float64) {
	r := def.Bounds()
	anchor := clampFloat64(original, r.Min, r.Max)
	switch def.Direction {
	case features.DirectionDecrease:
		return r.Min, anchor
	case features.DirectionIncrease:
		return anchor, r.Max
	default:
		return r.Min, r.Max
	}
}

type binaryOps struct{}

func (binaryOps) sample(rng *rand.Rand, def features.Definition, _ float64) float64 {
	switch def.Direction {
	case features.DirectionDecrease:
		return 0
	case features.DirectionIncrease:
		return 1
	default:
		return float64(rng.Intn(2))
	}
}

func (binaryOps) clamp(_ features.Definition, v float64) float64 {
	return clampFloat64(math.Round(v), 0, 1)
}

func (binaryOps) delta(_ features.Definition, a, b float64) float64 {
	return math.Abs(a - b)
}

func (binaryOps) changed(a, b float64) bool {
	return math.Round(a) != math.Round(b)
}

func (binaryOps) present(v float64) float64 {
	return math.Round(v)
}

func (binaryOps) feasibility(_ features.Definition, from, to float64) float64 {
	if math.Round(from) == 1 && math.Round(to) == 0 {
		return 0.8
	}
	return 0.5
}

type integerOps struct{}

func (integerOps) sample(rng *rand.Rand, def features.Definition, original float64) float64 {
	return sampleInt(rng, def, original)
}

func (integerOps) clamp(def features.Definition, v float64) float64 {
	r := def.Bounds()
	return math.Round(clampFloat64(v, r.Min, r.Max))
}

func (integerOps) delta(def features.Definition, a, b float64) float64 {
	return math.Abs(a-b) / def.Bounds().Span()
}

func (integerOps) changed(a, b float64) bool {
	return math.Round(a) != math.Round(b)
}

func (integerOps) present(v float64) float64 {
	return math.Round(v)
}

func (integerOps) feasibility(def features.Definition, from, to float64) float64 {
	step := to - from
	if len(def.EffortTiers) == 0 || !alongDirection(def.Direction, step) {
		return 0.6
	}
	magnitude := math.Abs(step)
	for _, tier := range def.EffortTiers {
		if magnitude <= tier.MaxDelta {
			return tier.Score
		}
	}
	return def.FallbackEffort
}

type continuousOps struct{}

func (continuousOps) sample(rng *rand.Rand, def features.Definition, original float64) float64 {
	lo, hi := sampleBounds(def, original)
	return lo + rng.Float64()*(hi-lo)
}

func (continuousOps) clamp(def features.Definition, v float64) float64 {
	r := def.Bounds()
	return clampFloat64(v, r.Min, r.Max)
}

func (continuousOps) delta(def features.Definition, a, b float64) float64 {
	return math.Abs(a-b) / def.Bounds().Span()
}

func (continuousOps) changed(a, b float64) bool {
	return math.Abs(a-b) > 0.5
}

func (continuousOps) present(v float64) float64 {
	return roundTo(v, 2)
}

func (continuousOps) feasibility(_ features.Definition, from, to float64) float64 {
	relative := math.Abs(to-from) / math.Max(math.Abs(from), 1)
	return math.Max(0.1, 1-relative)
}

// categoricalOps treats values as integer codes within the range.
type categoricalOps struct{}

func (categoricalOps) sample(rng *rand.Rand, def features.Definition, original float64) float64 {
	return sampleInt(rng, def, original)
}

func (categoricalOps) clamp(def features.Definition, v float64) float64 {
	r := def.Bounds()
	return math.Round(clampFloat64(v, r.Min, r.Max))
}

func (categoricalOps) delta(_ features.Definition, a, b float64) float64 {
	if math.Round(a) != math.Round(b) {
		return 1
	}
	return 0
}

func (categoricalOps) changed(a, b float64) bool {
	return math.Round(a) != math.Round(b)
}

func (categoricalOps) present(v float64) float64 {
	return math.Round(v)
}

func (categoricalOps) feasibility(features.Definition, float64, float64) float64 {
	return 0.5
}

func sampleInt(rng *rand.Rand, def features.Definition, original float64) float64 {
	lo, hi := sampleBounds(def, original)
	low, high := int(math.Ceil(lo)), int(math.Floor(hi))
	if high < low {
		return math.Round(clampFloat64(original, lo, hi))
	}
	return float64(low + rng.Intn(high-low+1))
}

func alongDirection(d features.Direction, step float64) bool {
	switch d {
	case features.DirectionIncrease:
		return step > 0
	case features.DirectionDecrease:
		return step < 0
	default:
		return step != 0
	}
}

func clampFloat64(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
