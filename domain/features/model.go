package features

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the value type of a feature.
type Kind int

const (
	Binary Kind = iota
	Integer
	Continuous
	Categorical
)

func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case Integer:
		return "integer"
	case Continuous:
		return "continuous"
	case Categorical:
		return "categorical"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a textual kind (as found in model files) to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "binary", "bool", "flag":
		return Binary, nil
	case "integer", "int":
		return Integer, nil
	case "continuous", "float", "real":
		return Continuous, nil
	case "categorical", "category":
		return Categorical, nil
	default:
		return 0, fmt.Errorf("unknown feature kind %q", s)
	}
}

// Direction is the only direction of change the engine may explore for a feature.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionDecrease
	DirectionIncrease
)

func (d Direction) String() string {
	switch d {
	case DirectionDecrease:
		return "decrease"
	case DirectionIncrease:
		return "increase"
	default:
		return "none"
	}
}

// ParseDirection maps a textual direction to a Direction. Empty means none.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "any":
		return DirectionNone, nil
	case "decrease", "down":
		return DirectionDecrease, nil
	case "increase", "up":
		return DirectionIncrease, nil
	default:
		return DirectionNone, fmt.Errorf("unknown direction %q", s)
	}
}

// Range is the closed interval of valid values for integer, continuous and categorical features.
type Range struct {
	Min float64
	Max float64
}

// Span returns Max-Min, or 1 for degenerate ranges so it can be used as a divisor.
func (r Range) Span() float64 {
	if s := r.Max - r.Min; s > 0 {
		return s
	}
	return 1
}

// EffortTier scores an integer change of at most MaxDelta steps in the feature's direction.
type EffortTier struct {
	MaxDelta float64
	Score    float64
}

// Definition is the metadata for one feature.
type Definition struct {
	Name      string
	Kind      Kind
	Mutable   bool
	Range     Range
	Direction Direction
	// EffortTiers are checked in order; a change larger than every tier scores FallbackEffort.
	EffortTiers    []EffortTier
	FallbackEffort float64
}

// Bounds returns the valid interval for the definition. Binary features are always [0,1].
func (d Definition) Bounds() Range {
	if d.Kind == Binary {
		return Range{Min: 0, Max: 1}
	}
	return d.Range
}

// Model is the feature vocabulary. It is the only place feature semantics are declared.
type Model struct {
	defs  map[string]Definition
	names []string
}

// NewModel builds a model from definitions. Names must be unique and ranges well-formed.
func NewModel(defs ...Definition) (*Model, error) {
	m := &Model{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("feature definition without a name")
		}
		if _, dup := m.defs[d.Name]; dup {
			return nil, fmt.Errorf("duplicate feature definition %q", d.Name)
		}
		if d.Kind != Binary && d.Range.Max < d.Range.Min {
			return nil, fmt.Errorf("feature %q: range max %.2f below min %.2f", d.Name, d.Range.Max, d.Range.Min)
		}
		m.defs[d.Name] = d
		m.names = append(m.names, d.Name)
	}
	sort.Strings(m.names)
	return m, nil
}

// MustModel is NewModel for static tables.
func MustModel(defs ...Definition) *Model {
	m, err := NewModel(defs...)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the definition for name.
func (m *Model) Lookup(name string) (Definition, bool) {
	d, ok := m.defs[name]
	return d, ok
}

// Names returns all feature names in sorted order.
func (m *Model) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// IsMutable reports whether the engine may alter name. Unknown features are not mutable.
func (m *Model) IsMutable(name string) bool {
	d, ok := m.defs[name]
	return ok && d.Mutable
}

// MutablePresent returns the mutable features that are present in v, sorted.
func (m *Model) MutablePresent(v Vector) []string {
	var out []string
	for _, name := range m.names {
		if !m.defs[name].Mutable {
			continue
		}
		if _, ok := v[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// Immutable returns the names of all immutable features, sorted.
func (m *Model) Immutable() []string {
	var out []string
	for _, name := range m.names {
		if !m.defs[name].Mutable {
			out = append(out, name)
		}
	}
	return out
}
