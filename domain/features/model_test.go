package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultModelImmutables(t *testing.T) {
	m := DefaultModel()

	assert.Equal(t, []string{EstimatedValueMKD, ProcedureType}, m.Immutable())
	assert.False(t, m.IsMutable(ProcedureType))
	assert.True(t, m.IsMutable(SingleBidder))
	assert.False(t, m.IsMutable("not_a_feature"))
}

func TestNewModelRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name string
		defs []Definition
	}{
		{"missing name", []Definition{{Kind: Binary}}},
		{"duplicate", []Definition{{Name: "a", Kind: Binary}, {Name: "a", Kind: Binary}}},
		{"inverted range", []Definition{{Name: "a", Kind: Integer, Range: Range{Min: 5, Max: 1}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewModel(tt.defs...)
			assert.Error(t, err)
		})
	}
}

func TestMutablePresent(t *testing.T) {
	m := DefaultModel()
	v := Vector{SingleBidder: 1, NumBidders: 1, ProcedureType: 2, "unknown": 3}

	assert.Equal(t, []string{NumBidders, SingleBidder}, m.MutablePresent(v))
}

func TestVectorCloneIsIndependent(t *testing.T) {
	v := Vector{SingleBidder: 1}
	c := v.Clone()
	c[SingleBidder] = 0

	assert.Equal(t, 1.0, v[SingleBidder])
	assert.Equal(t, 0.0, v.Get("absent"))
}

func TestKnownDropsUnknownKeys(t *testing.T) {
	m := DefaultModel()
	known := m.Known(Vector{SingleBidder: 1, "mystery": 7})

	require.Len(t, known, 1)
	assert.Equal(t, 1.0, known[SingleBidder])
}

func TestFiniteDropsNaNAndInfinity(t *testing.T) {
	v := Vector{SingleBidder: 1, PriceAnomaly: math.Inf(1), NumBidders: math.Inf(-1), EstimatedValueMKD: math.NaN()}

	finite := v.Finite()

	assert.Equal(t, Vector{SingleBidder: 1}, finite)
	assert.Len(t, v, 4, "input must not be modified")
}

func TestParseKindAndDirection(t *testing.T) {
	k, err := ParseKind("Continuous")
	require.NoError(t, err)
	assert.Equal(t, Continuous, k)

	_, err = ParseKind("matrix")
	assert.Error(t, err)

	d, err := ParseDirection("")
	require.NoError(t, err)
	assert.Equal(t, DirectionNone, d)

	d, err = ParseDirection("increase")
	require.NoError(t, err)
	assert.Equal(t, DirectionIncrease, d)
}

func TestBinaryBoundsIgnoreRange(t *testing.T) {
	d := Definition{Name: "flag", Kind: Binary, Range: Range{Min: 3, Max: 9}}
	assert.Equal(t, Range{Min: 0, Max: 1}, d.Bounds())
	assert.Equal(t, 1.0, Range{Min: 2, Max: 2}.Span())
}
