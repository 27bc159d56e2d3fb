package counterfactual

import (
	domainCF "tenderwatch/domain/counterfactual"
)

// Diversify greedily picks up to k counterfactuals from ranked (best first).
// The first pick is ranked[0]; each further pick maximises
// weight*(1 - max Jaccard similarity to the picks so far) + (1-weight)*feasibility,
// so the result spans different kinds of intervention.
func Diversify(ranked []domainCF.Counterfactual, k int, weight float64) []domainCF.Counterfactual {
	if k <= 0 || len(ranked) == 0 {
		return []domainCF.Counterfactual{}
	}
	if len(ranked) <= k {
		out := make([]domainCF.Counterfactual, len(ranked))
		copy(out, ranked)
		return out
	}

	keySets := make([]map[string]struct{}, len(ranked))
	for i, cf := range ranked {
		keySets[i] = keySet(cf)
	}

	selected := []int{0}
	used := map[int]bool{0: true}
	for len(selected) < k {
		best, bestValue := -1, 0.0
		for i := range ranked {
			if used[i] {
				continue
			}
			maxSim := 0.0
			for _, j := range selected {
				if sim := jaccard(keySets[i], keySets[j]); sim > maxSim {
					maxSim = sim
				}
			}
			value := weight*(1-maxSim) + (1-weight)*ranked[i].Feasibility
			if best < 0 || value > bestValue {
				best, bestValue = i, value
			}
		}
		if best < 0 {
			break
		}
		selected = append(selected, best)
		used[best] = true
	}

	out := make([]domainCF.Counterfactual, 0, len(selected))
	for _, i := range selected {
		out = append(out, ranked[i])
	}
	return out
}

func keySet(cf domainCF.Counterfactual) map[string]struct{} {
	set := make(map[string]struct{}, len(cf.ChangedFeatures))
	for k := range cf.ChangedFeatures {
		set[k] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|; two empty sets are identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	inter := 0
	for k := range a {
		if _, ok := b[k]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
