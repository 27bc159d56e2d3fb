package features

import (
	"math"
	"sort"
)

// Vector maps feature names to numeric values for one tender.
// Operators treat vectors as values: they clone before writing.
type Vector map[string]float64

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Get returns the value for name, or 0 when absent.
func (v Vector) Get(name string) float64 {
	return v[name]
}

// Keys returns the feature names in v, sorted.
func (v Vector) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Finite returns a copy of v without NaN or infinite values. Dropped features count as absent.
func (v Vector) Finite() Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		if math.IsNaN(val) || math.IsInf(val, 0) {
			continue
		}
		out[k] = val
	}
	return out
}

// Known returns a copy of v restricted to features declared in m.
func (m *Model) Known(v Vector) Vector {
	out := make(Vector, len(v))
	for k, val := range v {
		if _, ok := m.defs[k]; ok {
			out[k] = val
		}
	}
	return out
}
