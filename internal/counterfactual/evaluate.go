package counterfactual

import (
	"tenderwatch/domain/features"

	"gonum.org/v1/gonum/stat"
)

// FitnessWeights are the coefficients of the search objective.
// The defaults are hand-tuned to favour crossing the target with few edits.
type FitnessWeights struct {
	ScoreDelta        float64 `validate:"gte=0"`
	ThresholdBonus    float64 `validate:"gte=0"`
	DistancePenalty   float64 `validate:"gte=0"`
	FeasibilityReward float64 `validate:"gte=0"`
}

// DefaultFitnessWeights returns the standard objective coefficients.
func DefaultFitnessWeights() FitnessWeights {
	return FitnessWeights{
		ScoreDelta:        1.0,
		ThresholdBonus:    20.0,
		DistancePenalty:   10.0,
		FeasibilityReward: 5.0,
	}
}

// Distance is the mean normalised edit size over mutable features present in both vectors.
func Distance(model *features.Model, original, candidate features.Vector) float64 {
	var deltas []float64
	for _, name := range model.MutablePresent(original) {
		cv, ok := candidate[name]
		if !ok {
			continue
		}
		def, _ := model.Lookup(name)
		deltas = append(deltas, opsFor(def.Kind).delta(def, original[name], cv))
	}
	if len(deltas) == 0 {
		return 0
	}
	return stat.Mean(deltas, nil)
}

// Feasibility scores how realistic the edits from original to candidate are, from 0 (impossible) to 1.
// Touching an immutable feature makes the whole candidate infeasible.
func Feasibility(model *features.Model, original, candidate features.Vector) float64 {
	for _, name := range model.Immutable() {
		ov, inOrig := original[name]
		cv, inCand := candidate[name]
		if inOrig != inCand || ov != cv {
			return 0
		}
	}

	var scores []float64
	for _, name := range unionKeys(original, candidate) {
		def, ok := model.Lookup(name)
		if !ok || !def.Mutable {
			continue
		}
		ops := opsFor(def.Kind)
		from, to := original.Get(name), candidate.Get(name)
		if !ops.changed(from, to) {
			continue
		}
		scores = append(scores, ops.feasibility(def, from, to))
	}
	if len(scores) == 0 {
		return 1
	}
	return stat.Mean(scores, nil)
}

// Fitness combines score reduction, target crossing, edit distance and feasibility. Higher is better.
func Fitness(w FitnessWeights, originalScore, cfScore, targetScore, distance, feasibility float64) float64 {
	fitness := (originalScore - cfScore) * w.ScoreDelta
	if cfScore < targetScore {
		fitness += w.ThresholdBonus
	}
	fitness -= distance * w.DistancePenalty
	fitness += feasibility * w.FeasibilityReward
	return fitness
}
