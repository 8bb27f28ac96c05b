package service

import (
	"math"
	"testing"
	"time"

	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEvaluator() *Evaluator {
	return &Evaluator{log: zap.NewNop()}
}

func version(beat, factor, base float64) ratemapdomain.Version {
	return ratemapdomain.Version{Beat: beat, Factor: factor, ChargeBase: base}
}

func tier(from, to float64, versions ...ratemapdomain.Version) ratemapdomain.Tier {
	return ratemapdomain.Tier{From: from, To: to, Versions: versions}
}

var rateAt = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)

func TestEvaluateTieredCrossesBands(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 60, version(1, 0.02, 1)),
		tier(60, math.Inf(1), version(1, 0.01, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 90, rateAt, ratemapdomain.ModeTiered, true)
	require.NoError(t, err)

	assert.InDelta(t, 1.5, result.RatedValue, 1e-9)
	assert.InDelta(t, 90, result.UsageUsed, 1e-9)
	require.Len(t, result.Breakdown, 2)
	assert.InDelta(t, 60, result.Breakdown[0].UsageUsed, 1e-9)
	assert.InDelta(t, 30, result.Breakdown[1].UsageUsed, 1e-9)
}

func TestEvaluateTieredBeatFlooring(t *testing.T) {
	// 90 seconds at a 60 second beat charges two whole beats.
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(60, 0.1, 60)),
	}

	result, err := testEvaluator().Evaluate(tiers, 90, rateAt, ratemapdomain.ModeTiered, false)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, result.RatedValue, 1e-9)
}

func TestEvaluateTieredSingularityChargesOneBeat(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 0, version(1, 5, 1)),
		tier(0, math.Inf(1), version(1, 0.5, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 10, rateAt, ratemapdomain.ModeTiered, true)
	require.NoError(t, err)

	// Singularity band: one beat at factor 5, then 10 units at 0.5.
	assert.InDelta(t, 5+5, result.RatedValue, 1e-9)
	require.Len(t, result.Breakdown, 2)
	assert.InDelta(t, 1, result.Breakdown[0].BeatCount, 1e-9)
	assert.InDelta(t, 0, result.Breakdown[0].UsageUsed, 1e-9)
}

func TestEvaluateTieredMonotonic(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 60, version(10, 0.5, 1)),
		tier(60, 120, version(10, 0.25, 1)),
		tier(120, math.Inf(1), version(10, 0.125, 1)),
	}
	eval := testEvaluator()

	prev := -1.0
	for value := 1.0; value <= 300; value += 7 {
		result, err := eval.Evaluate(tiers, value, rateAt, ratemapdomain.ModeTiered, false)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.RatedValue, prev, "value %f", value)
		prev = result.RatedValue
	}
}

func TestEvaluateThresholdChargesWholeQuantityInOneBand(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 100, version(1, 0.01, 1)),
		tier(100, math.Inf(1), version(1, 0.005, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 90, rateAt, ratemapdomain.ModeThreshold, true)
	require.NoError(t, err)

	assert.InDelta(t, 0.9, result.RatedValue, 1e-9)
	assert.InDelta(t, 90, result.UsageUsed, 1e-9)
	require.Len(t, result.Breakdown, 1)
}

func TestEvaluateThresholdPicksContainingBand(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 100, version(1, 0.01, 1)),
		tier(100, math.Inf(1), version(1, 0.005, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 200, rateAt, ratemapdomain.ModeThreshold, false)
	require.NoError(t, err)

	// The whole 200 units rate at the upper band's factor.
	assert.InDelta(t, 1.0, result.RatedValue, 1e-9)
}

func TestEvaluateThresholdSingularityMatchesExactQuantity(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(60, 60, version(30, 2, 1)),
		tier(0, math.Inf(1), version(1, 1, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 60, rateAt, ratemapdomain.ModeThreshold, false)
	require.NoError(t, err)

	// One beat of 30 at factor 2, regardless of the 60 units.
	assert.InDelta(t, 60, result.RatedValue, 1e-9)
	assert.InDelta(t, 60, result.UsageUsed, 1e-9)
}

func TestEvaluateFlatIsLinear(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(0, 0.25, 10)),
	}
	eval := testEvaluator()

	a, err := eval.Evaluate(tiers, 100, rateAt, ratemapdomain.ModeFlat, false)
	require.NoError(t, err)
	b, err := eval.Evaluate(tiers, 200, rateAt, ratemapdomain.ModeFlat, false)
	require.NoError(t, err)

	assert.InDelta(t, 2.5, a.RatedValue, 1e-9)
	assert.InDelta(t, 2*a.RatedValue, b.RatedValue, 1e-9)
}

func TestEvaluateEventChargesPerUnitWithoutBeats(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(0, 2, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 3, rateAt, ratemapdomain.ModeEvent, false)
	require.NoError(t, err)
	assert.InDelta(t, 6, result.RatedValue, 1e-9)
}

func TestEvaluateEventFloorsEmptySpanToOneUnit(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 0, version(0, 2, 1)),
	}

	result, err := testEvaluator().Evaluate(tiers, 5, rateAt, ratemapdomain.ModeEvent, false)
	require.NoError(t, err)
	assert.InDelta(t, 2, result.RatedValue, 1e-9)
}

func TestEvaluateEmptyTiers(t *testing.T) {
	_, err := testEvaluator().Evaluate(nil, 10, rateAt, ratemapdomain.ModeTiered, false)
	assert.ErrorIs(t, err, ratemapdomain.ErrPriceModelUndefined)
}

func TestEvaluateUnknownMode(t *testing.T) {
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), version(1, 1, 1))}
	_, err := testEvaluator().Evaluate(tiers, 10, rateAt, ratemapdomain.Mode("BOGUS"), false)
	assert.ErrorIs(t, err, ratemapdomain.ErrUnknownMode)
}

func TestEvaluateNegativeQuantityClampedToZero(t *testing.T) {
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), version(1, 1, 1))}

	result, err := testEvaluator().Evaluate(tiers, -5, rateAt, ratemapdomain.ModeTiered, false)
	require.NoError(t, err)
	assert.Zero(t, result.RatedValue)
	assert.Zero(t, result.UsageUsed)
}

func TestEvaluateValidityChain(t *testing.T) {
	cutover := rateAt.Add(24 * time.Hour)
	old := ratemapdomain.Version{Beat: 1, Factor: 1, ChargeBase: 1, ValidTo: cutover}
	current := ratemapdomain.Version{Beat: 1, Factor: 2, ChargeBase: 1, ValidFrom: cutover}
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), old, current)}
	eval := testEvaluator()

	before, err := eval.Evaluate(tiers, 10, rateAt, ratemapdomain.ModeTiered, false)
	require.NoError(t, err)
	after, err := eval.Evaluate(tiers, 10, cutover.Add(time.Hour), ratemapdomain.ModeTiered, false)
	require.NoError(t, err)

	assert.InDelta(t, 10, before.RatedValue, 1e-9)
	assert.InDelta(t, 20, after.RatedValue, 1e-9)
}

func TestEvaluateValidityGap(t *testing.T) {
	expired := ratemapdomain.Version{
		Beat: 1, Factor: 1, ChargeBase: 1,
		ValidFrom: rateAt.Add(-48 * time.Hour),
		ValidTo:   rateAt.Add(-24 * time.Hour),
	}
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), expired)}

	_, err := testEvaluator().Evaluate(tiers, 10, rateAt, ratemapdomain.ModeTiered, false)
	assert.ErrorIs(t, err, ratemapdomain.ErrValidityNotCovered)
}
