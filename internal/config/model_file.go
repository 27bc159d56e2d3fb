package config

import (
	"fmt"
	"log"
	"os"

	"tenderwatch/domain/features"
	"tenderwatch/internal/counterfactual"
	"tenderwatch/internal/errors"
	"tenderwatch/internal/risk"

	"gopkg.in/yaml.v3"
)

// ModelFile is the on-disk shape of a feature model override.
// Every section is optional; missing sections keep the built-in defaults.
type ModelFile struct {
	Features     []FeatureSpec     `yaml:"features"`
	Weights      risk.Weights      `yaml:"weights"`
	Scoring      *ScoringSpec      `yaml:"scoring"`
	Descriptions []DescriptionSpec `yaml:"descriptions"`
}

// FeatureSpec declares one feature.
type FeatureSpec struct {
	Name           string       `yaml:"name"`
	Kind           string       `yaml:"kind"`
	Mutable        bool         `yaml:"mutable"`
	Min            float64      `yaml:"min"`
	Max            float64      `yaml:"max"`
	Direction      string       `yaml:"direction"`
	EffortTiers    []EffortSpec `yaml:"effort_tiers"`
	FallbackEffort float64      `yaml:"fallback_effort"`
}

// EffortSpec is one feasibility tier of an integer feature.
type EffortSpec struct {
	MaxDelta float64 `yaml:"max_delta"`
	Score    float64 `yaml:"score"`
}

// ScoringSpec overrides the CRI options.
type ScoringSpec struct {
	MultiFlagBonus   *float64               `yaml:"multi_flag_bonus"`
	BidderFeature    string                 `yaml:"bidder_feature"`
	CompetitionTiers []risk.CompetitionTier `yaml:"competition_tiers"`
}

// DescriptionSpec is one canned recommendation.
type DescriptionSpec struct {
	Feature   string `yaml:"feature"`
	Direction string `yaml:"direction"`
	EN        string `yaml:"en"`
	MK        string `yaml:"mk"`
}

// Domain is the resolved feature model, scorer settings and description table.
type Domain struct {
	Model        *features.Model
	Weights      risk.Weights
	Scoring      risk.Options
	Descriptions counterfactual.Descriptions
}

// DefaultDomain returns the built-in tender model.
func DefaultDomain() Domain {
	return Domain{
		Model:        features.DefaultModel(),
		Weights:      risk.DefaultWeights(),
		Scoring:      risk.DefaultOptions(),
		Descriptions: counterfactual.DefaultDescriptions(),
	}
}

// LoadDomain returns DefaultDomain when path is empty, otherwise the defaults overlaid with the file.
func LoadDomain(path string) (Domain, error) {
	domain := DefaultDomain()
	if path == "" {
		return domain, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read model file %s", path)
	}

	var file ModelFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to parse model file %s", path)
	}

	if err := file.apply(&domain); err != nil {
		return domain, errors.Wrapf(err, "invalid model file %s", path)
	}

	log.Printf("[Config] Loaded model file %s (%d features, %d weights, %d descriptions)",
		path, len(domain.Model.Names()), len(domain.Weights), len(domain.Descriptions))
	return domain, nil
}

func (f ModelFile) apply(domain *Domain) error {
	if len(f.Features) > 0 {
		defs := make([]features.Definition, 0, len(f.Features))
		for _, spec := range f.Features {
			def, err := spec.definition()
			if err != nil {
				return errors.ConfigInvalid(err.Error())
			}
			defs = append(defs, def)
		}
		model, err := features.NewModel(defs...)
		if err != nil {
			return errors.ConfigInvalid(err.Error())
		}
		domain.Model = model
	}

	if len(f.Weights) > 0 {
		for _, w := range f.Weights {
			if w.Feature == "" || w.FlagType == "" || w.Weight <= 0 {
				return errors.ConfigInvalid(fmt.Sprintf("weight entry %+v needs feature, flag_type and a positive weight", w))
			}
		}
		domain.Weights = f.Weights
	}

	if f.Scoring != nil {
		if f.Scoring.MultiFlagBonus != nil {
			domain.Scoring.MultiFlagBonus = *f.Scoring.MultiFlagBonus
		}
		if f.Scoring.BidderFeature != "" {
			domain.Scoring.BidderFeature = f.Scoring.BidderFeature
		}
		if f.Scoring.CompetitionTiers != nil {
			domain.Scoring.CompetitionTiers = f.Scoring.CompetitionTiers
		}
	}

	for _, spec := range f.Descriptions {
		dir, err := features.ParseDirection(spec.Direction)
		if err != nil {
			return errors.ConfigInvalid(fmt.Sprintf("description for %s: %v", spec.Feature, err))
		}
		if spec.Feature == "" || spec.EN == "" {
			return errors.ConfigInvalid("description entries need a feature and an english text")
		}
		domain.Descriptions[counterfactual.DescriptionKey{Feature: spec.Feature, Direction: dir}] =
			counterfactual.Description{EN: spec.EN, MK: spec.MK}
	}

	return nil
}

func (s FeatureSpec) definition() (features.Definition, error) {
	kind, err := features.ParseKind(s.Kind)
	if err != nil {
		return features.Definition{}, fmt.Errorf("feature %s: %w", s.Name, err)
	}
	dir, err := features.ParseDirection(s.Direction)
	if err != nil {
		return features.Definition{}, fmt.Errorf("feature %s: %w", s.Name, err)
	}

	def := features.Definition{
		Name:           s.Name,
		Kind:           kind,
		Mutable:        s.Mutable,
		Range:          features.Range{Min: s.Min, Max: s.Max},
		Direction:      dir,
		FallbackEffort: s.FallbackEffort,
	}
	for _, tier := range s.EffortTiers {
		def.EffortTiers = append(def.EffortTiers, features.EffortTier{MaxDelta: tier.MaxDelta, Score: tier.Score})
	}
	return def, nil
}
