// Package risk computes the corruption-risk index (CRI) of a tender from its red-flag features.
package risk

import (
	"math"
	"sort"

	"tenderwatch/domain/features"
)

// ScoreFunc maps a feature vector to a risk score in [0,100].
// Any model can stand in for the default CRI, e.g. a classifier probability scaled by 100.
type ScoreFunc func(features.Vector) float64

// Weight binds a red-flag feature to its flag type and weight.
// Flags sharing a FlagType contribute once, through the strongest of them.
type Weight struct {
	Feature  string  `yaml:"feature"`
	FlagType string  `yaml:"flag_type"`
	Weight   float64 `yaml:"weight"`
}

// Weights is the CRI weight table.
type Weights []Weight

// DefaultWeights returns the CRI weight table for the default tender model.
func DefaultWeights() Weights {
	return Weights{
		{Feature: features.SingleBidder, FlagType: "competition", Weight: 1.0},
		{Feature: features.PriceExactMatch, FlagType: "pricing", Weight: 0.8},
		{Feature: features.PriceAnomaly, FlagType: "pricing", Weight: 0.9},
		{Feature: features.ShortDeadline, FlagType: "timing", Weight: 0.7},
		{Feature: features.RepeatWinner, FlagType: "concentration", Weight: 0.8},
		{Feature: features.WinnerMarketShare, FlagType: "concentration", Weight: 0.6},
		{Feature: features.ContractSplitting, FlagType: "splitting", Weight: 0.7},
		{Feature: features.AmendmentInflation, FlagType: "amendments", Weight: 0.6},
		{Feature: features.RelatedCompanies, FlagType: "collusion", Weight: 0.9},
		{Feature: features.IdenticalBids, FlagType: "collusion", Weight: 1.0},
		{Feature: features.BidRotation, FlagType: "collusion", Weight: 0.85},
	}
}

// CompetitionTier discounts the score when the bidder count reaches MinBidders.
type CompetitionTier struct {
	MinBidders float64 `yaml:"min_bidders"`
	Factor     float64 `yaml:"factor"`
}

// Options tunes the scorer beyond its weight table.
type Options struct {
	// MultiFlagBonus is added per active flag type beyond the first.
	MultiFlagBonus float64
	// BidderFeature names the competition count used for discounting.
	BidderFeature string
	// CompetitionTiers are checked from the highest MinBidders down; the first matching tier applies.
	CompetitionTiers []CompetitionTier
}

// DefaultOptions returns the standard CRI options.
func DefaultOptions() Options {
	return Options{
		MultiFlagBonus: 8,
		BidderFeature:  features.NumBidders,
		CompetitionTiers: []CompetitionTier{
			{MinBidders: 5, Factor: 0.90},
			{MinBidders: 3, Factor: 0.95},
		},
	}
}

// Scorer is the default CRI implementation. It is safe for concurrent use.
type Scorer struct {
	weights Weights
	model   *features.Model
	opts    Options
}

// NewScorer creates a scorer. A nil model treats every weighted feature as binary.
func NewScorer(weights Weights, model *features.Model, opts Options) *Scorer {
	w := make(Weights, len(weights))
	copy(w, weights)
	tiers := make([]CompetitionTier, len(opts.CompetitionTiers))
	copy(tiers, opts.CompetitionTiers)
	sort.SliceStable(tiers, func(i, j int) bool { return tiers[i].MinBidders > tiers[j].MinBidders })
	opts.CompetitionTiers = tiers
	return &Scorer{weights: w, model: model, opts: opts}
}

// NewDefaultScorer creates a scorer with the default table, model and options.
func NewDefaultScorer() *Scorer {
	return NewScorer(DefaultWeights(), features.DefaultModel(), DefaultOptions())
}

type flagHit struct {
	score  float64
	weight float64
}

// Score returns the CRI for v. Missing features count as absent.
func (s *Scorer) Score(v features.Vector) float64 {
	hits := make(map[string]flagHit)
	for _, w := range s.weights {
		flagScore := s.flagScore(w.Feature, v.Get(w.Feature))
		if flagScore <= 0 {
			continue
		}
		if prev, ok := hits[w.FlagType]; !ok || flagScore > prev.score {
			hits[w.FlagType] = flagHit{score: flagScore, weight: w.Weight}
		}
	}
	if len(hits) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for _, h := range hits {
		weighted += h.score * h.weight
		totalWeight += h.weight
	}
	score := 0.0
	if totalWeight > 0 {
		score = weighted / totalWeight
	}
	score += s.opts.MultiFlagBonus * float64(len(hits)-1)

	if s.opts.BidderFeature != "" {
		bidders := v.Get(s.opts.BidderFeature)
		for _, tier := range s.opts.CompetitionTiers {
			if bidders >= tier.MinBidders {
				score *= tier.Factor
				break
			}
		}
	}

	return clamp(score, 0, 100)
}

// Func returns s.Score as a ScoreFunc.
func (s *Scorer) Func() ScoreFunc {
	return s.Score
}

func (s *Scorer) flagScore(feature string, value float64) float64 {
	kind := features.Binary
	if s.model != nil {
		if def, ok := s.model.Lookup(feature); ok {
			kind = def.Kind
		}
	}
	if kind == features.Binary {
		return clamp(value*100, 0, 100)
	}
	return clamp(value, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
