package scoring

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierBoundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  Tier
	}{
		{100, TierStrongYes},
		{85, TierStrongYes},
		{84.999, TierYes},
		{70, TierYes},
		{69.999, TierMaybe},
		{55, TierMaybe},
		{54.999, TierNo},
		{0, TierNo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.score), "score=%v", tt.score)
	}
}

func TestAggregator_BoundariesThroughScore(t *testing.T) {
	agg, err := NewAggregator([]Weight{{Name: "only", Weight: 1.0}})
	require.NoError(t, err)

	tests := []struct {
		value     float64
		composite int
		tier      Tier
	}{
		{85, 85, TierStrongYes},
		{84.999, 84, TierYes},
		{70, 70, TierYes},
		{69.999, 69, TierMaybe},
		{55, 55, TierMaybe},
		{54.999, 54, TierNo},
	}
	for _, tt := range tests {
		res, err := agg.Score(map[string]float64{"only": tt.value})
		require.NoError(t, err)
		assert.Equal(t, tt.composite, res.CompositeScore, "value=%v", tt.value)
		assert.Equal(t, tt.tier, res.Tier, "value=%v", tt.value)
		assert.Equal(t, TierFor(tt.value), res.Tier, "等级与未截断分数一致")
	}
}

func TestAggregator_EndToEnd(t *testing.T) {
	agg := MustDefault()

	res, err := agg.Score(map[string]float64{
		ComponentSkills:     95,
		ComponentExperience: 90,
		ComponentEducation:  100,
		ComponentBonus:      80,
	})
	require.NoError(t, err)

	assert.InDelta(t, 92.5, res.RawScore, 1e-9)
	assert.Equal(t, 92, res.CompositeScore, "截断规则: 92.5 -> 92")
	assert.Equal(t, TierStrongYes, res.Tier)
	require.Len(t, res.Components, 4)
	assert.Equal(t, Component{Name: ComponentSkills, Value: 95, Weight: 0.40}, res.Components[0])
}

func TestAggregator_FloatErrorDoesNotDropTier(t *testing.T) {
	agg, err := NewAggregator([]Weight{{"a", 0.1}, {"b", 0.2}, {"c", 0.7}})
	require.NoError(t, err)

	// 0.1*85 + 0.2*85 + 0.7*85 在浮点下可能略小于85
	res, err := agg.Score(map[string]float64{"a": 85, "b": 85, "c": 85})
	require.NoError(t, err)
	assert.Equal(t, 85, res.CompositeScore)
	assert.Equal(t, TierStrongYes, res.Tier)
}

func TestNewAggregator_WeightSum(t *testing.T) {
	_, err := NewAggregator([]Weight{{"skills", 0.40}, {"experience", 0.35}, {"education", 0.14}, {"bonus", 0.10}})
	require.Error(t, err)
	var invalid *InvalidWeights
	require.True(t, errors.As(err, &invalid))
	assert.InDelta(t, 0.99, invalid.Sum, 1e-9)
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewAggregator([]Weight{{"a", 0.5}, {"b", 0.5 + 5e-7}})
	assert.NoError(t, err, "误差在 1e-6 以内")

	_, err = NewAggregator([]Weight{{"a", 0.5}, {"b", 0.5 + 2e-6}})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewAggregator(nil)
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewAggregator([]Weight{{"a", 1.2}, {"b", -0.2}})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = NewAggregator([]Weight{{"a", 0.5}, {"a", 0.5}})
	assert.ErrorIs(t, err, ErrInvalidWeights)
}

func TestAggregator_RejectsPartialInput(t *testing.T) {
	agg := MustDefault()

	_, err := agg.Score(map[string]float64{ComponentSkills: 90, ComponentExperience: 80, ComponentEducation: 70})
	assert.ErrorIs(t, err, ErrMissingComponent)

	_, err = agg.Score(map[string]float64{ComponentSkills: 90, ComponentExperience: 80, ComponentEducation: 70, ComponentBonus: 101})
	assert.ErrorIs(t, err, ErrValueOutOfRange)

	_, err = agg.Score(map[string]float64{ComponentSkills: 90, ComponentExperience: 80, ComponentEducation: 70, ComponentBonus: 10, "luck": 5})
	assert.ErrorIs(t, err, ErrUnknownComponent)
}

func TestComposite_Clamp(t *testing.T) {
	assert.Equal(t, 0, Composite(-3))
	assert.Equal(t, 100, Composite(100))
	assert.Equal(t, 100, Composite(130))
	assert.Equal(t, 99, Composite(99.99))
}
