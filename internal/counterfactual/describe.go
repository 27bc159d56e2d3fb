package counterfactual

import (
	"fmt"
	"strconv"
	"strings"

	domainCF "tenderwatch/domain/counterfactual"
	"tenderwatch/domain/features"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Description is a bilingual (English / Macedonian) recommendation.
// Text may contain {from} and {to} placeholders.
type Description struct {
	EN string `yaml:"en" json:"en"`
	MK string `yaml:"mk" json:"mk"`
}

// DescriptionKey selects a description by feature and direction of change.
type DescriptionKey struct {
	Feature   string
	Direction features.Direction
}

// Descriptions is the canned description table.
type Descriptions map[DescriptionKey]Description

// DefaultDescriptions returns the recommendations for the default tender model.
func DefaultDescriptions() Descriptions {
	dec := func(f string) DescriptionKey {
		return DescriptionKey{Feature: f, Direction: features.DirectionDecrease}
	}
	inc := func(f string) DescriptionKey {
		return DescriptionKey{Feature: f, Direction: features.DirectionIncrease}
	}

	return Descriptions{
		dec(features.SingleBidder): {
			EN: "Attract at least one additional competing bid",
			MK: "Обезбедете барем уште една конкурентна понуда",
		},
		inc(features.NumBidders): {
			EN: "Increase the number of bidders from {from} to {to}",
			MK: "Зголемете го бројот на понудувачи од {from} на {to}",
		},
		dec(features.PriceExactMatch): {
			EN: "Avoid a winning bid identical to the estimated value",
			MK: "Избегнете добитна понуда идентична со проценетата вредност",
		},
		dec(features.PriceAnomaly): {
			EN: "Bring the price anomaly score down from {from} to {to}",
			MK: "Намалете ја ценовната аномалија од {from} на {to}",
		},
		dec(features.ShortDeadline): {
			EN: "Allow a standard bid submission deadline",
			MK: "Овозможете стандарден рок за поднесување понуди",
		},
		inc(features.DeadlineDays): {
			EN: "Extend the submission deadline from {from} to {to} days",
			MK: "Продолжете го рокот за поднесување од {from} на {to} дена",
		},
		dec(features.RepeatWinner): {
			EN: "Break the pattern of the same supplier winning repeatedly",
			MK: "Прекинете ја шемата на ист добитник на тендери",
		},
		dec(features.WinnerMarketShare): {
			EN: "Reduce the winner's market share from {from}% to {to}%",
			MK: "Намалете го пазарниот удел на добитникот од {from}% на {to}%",
		},
		dec(features.ContractSplitting): {
			EN: "Procure the need as a single contract instead of split lots",
			MK: "Набавете ја потребата со еден договор наместо поделени делови",
		},
		dec(features.AmendmentInflation): {
			EN: "Limit contract amendments from {from}% to {to}% of the original value",
			MK: "Ограничете ги анексите на договорот од {from}% на {to}% од првичната вредност",
		},
		dec(features.RelatedCompanies): {
			EN: "Exclude bidders with ownership links to each other",
			MK: "Исклучете понудувачи со меѓусебна сопственичка поврзаност",
		},
		dec(features.IdenticalBids): {
			EN: "Investigate and eliminate identical bid amounts",
			MK: "Истражете и отстранете идентични износи на понуди",
		},
		dec(features.BidRotation): {
			EN: "Break the rotation pattern among recurring bidders",
			MK: "Прекинете ја ротацијата меѓу постојаните понудувачи",
		},
	}
}

// Describer renders change descriptions, falling back to generated text for features without canned entries.
type Describer struct {
	model *features.Model
	table Descriptions
}

// NewDescriber creates a describer over a copy of table.
func NewDescriber(model *features.Model, table Descriptions) *Describer {
	t := make(Descriptions, len(table))
	for k, v := range table {
		t[k] = v
	}
	return &Describer{model: model, table: t}
}

// Describe returns the description for changing feature from -> to.
func (d *Describer) Describe(feature string, from, to float64) Description {
	dir := features.DirectionNone
	switch {
	case to < from:
		dir = features.DirectionDecrease
	case to > from:
		dir = features.DirectionIncrease
	}

	r := strings.NewReplacer("{from}", formatValue(from), "{to}", formatValue(to))
	if desc, ok := d.table[DescriptionKey{Feature: feature, Direction: dir}]; ok {
		return Description{EN: r.Replace(desc.EN), MK: r.Replace(desc.MK)}
	}
	return d.fallback(feature, dir, from, to)
}

func (d *Describer) fallback(feature string, dir features.Direction, from, to float64) Description {
	label := cases.Title(language.English).String(strings.ReplaceAll(feature, "_", " "))
	f, t := formatValue(from), formatValue(to)

	kind := features.Continuous
	if def, ok := d.model.Lookup(feature); ok {
		kind = def.Kind
	}

	switch {
	case kind == features.Binary && dir == features.DirectionDecrease:
		return Description{
			EN: fmt.Sprintf("Remove %s flag", label),
			MK: fmt.Sprintf("Отстранете го индикаторот %s", label),
		}
	case kind == features.Binary && dir == features.DirectionIncrease:
		return Description{
			EN: fmt.Sprintf("Set %s flag", label),
			MK: fmt.Sprintf("Поставете го индикаторот %s", label),
		}
	case dir == features.DirectionDecrease:
		return Description{
			EN: fmt.Sprintf("Reduce %s score from %s to %s", label, f, t),
			MK: fmt.Sprintf("Намалете го %s од %s на %s", label, f, t),
		}
	case dir == features.DirectionIncrease:
		return Description{
			EN: fmt.Sprintf("Increase %s from %s to %s", label, f, t),
			MK: fmt.Sprintf("Зголемете го %s од %s на %s", label, f, t),
		}
	default:
		return Description{
			EN: fmt.Sprintf("Change %s from %s to %s", label, f, t),
			MK: fmt.Sprintf("Променете го %s од %s на %s", label, f, t),
		}
	}
}

// ExtractChanges lists the mutable features that differ between original and candidate beyond
// their kind's epsilon, with formatted values and descriptions.
func ExtractChanges(model *features.Model, describer *Describer, original, candidate features.Vector) map[string]domainCF.Change {
	changes := make(map[string]domainCF.Change)
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
		from, to = ops.present(from), ops.present(to)
		desc := describer.Describe(name, from, to)
		changes[name] = domainCF.Change{
			From:          from,
			To:            to,
			Description:   desc.EN,
			DescriptionMK: desc.MK,
		}
	}
	return changes
}

// ActionableFeasibility is the minimum feasibility for a counterfactual to be considered actionable.
const ActionableFeasibility = 0.6

// ActionableChanges keeps counterfactuals with feasibility of at least ActionableFeasibility and strips
// any change to an immutable or unknown feature. Results left without changes are dropped.
func ActionableChanges(model *features.Model, cfs []domainCF.Counterfactual) []domainCF.Counterfactual {
	out := make([]domainCF.Counterfactual, 0, len(cfs))
	for _, cf := range cfs {
		if !(cf.Feasibility >= ActionableFeasibility) {
			continue
		}
		kept := cf.Clone()
		for name := range kept.ChangedFeatures {
			if !model.IsMutable(name) {
				delete(kept.ChangedFeatures, name)
			}
		}
		if len(kept.ChangedFeatures) == 0 {
			continue
		}
		kept.NumChanges = len(kept.ChangedFeatures)
		out = append(out, kept)
	}
	return out
}

func formatValue(v float64) string {
	return strconv.FormatFloat(roundTo(v, 2), 'f', -1, 64)
}
