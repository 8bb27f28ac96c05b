package service

import (
	"math"
	"testing"

	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeTieredSpansBands(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 60, version(1, 0.5, 1)),
		tier(60, math.Inf(1), version(1, 0.25, 1)),
	}

	// First band costs 30 in full; the remaining 10 buys 40 beats above it.
	quantity, err := testEvaluator().Authorize(tiers, 40, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.InDelta(t, 100, quantity, 1e-9)
}

func TestAuthorizeTieredGrantsWholeBeatsOnly(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(10, 0.5, 1)),
	}

	// costPerBeat is 5; a balance of 12 buys two whole beats, never a part.
	quantity, err := testEvaluator().Authorize(tiers, 12, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.InDelta(t, 20, quantity, 1e-9)
}

func TestAuthorizeTieredZeroBalance(t *testing.T) {
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), version(1, 1, 1))}

	quantity, err := testEvaluator().Authorize(tiers, 0, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.Zero(t, quantity)
}

func TestAuthorizeTieredFreeBandNeverStalls(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 50, version(1, 0, 1)),
		tier(50, math.Inf(1), version(1, 0.5, 1)),
	}

	// The free band is granted in full, the paid band consumes the balance.
	quantity, err := testEvaluator().Authorize(tiers, 5, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.InDelta(t, 60, quantity, 1e-9)
}

func TestAuthorizeTieredOpenEndedFreeBand(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 50, version(1, 0.5, 1)),
		tier(50, math.Inf(1), version(1, 0, 1)),
	}

	// An infinite free band cannot grant infinite usage; the walk stops.
	quantity, err := testEvaluator().Authorize(tiers, 100, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.InDelta(t, 50, quantity, 1e-9)
}

func TestAuthorizeTieredSkipsSingularity(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 0, version(1, 5, 1)),
		tier(0, 100, version(1, 0.5, 1)),
	}

	quantity, err := testEvaluator().Authorize(tiers, 10, rateAt, ratemapdomain.ModeTiered)
	require.NoError(t, err)
	assert.InDelta(t, 20, quantity, 1e-9)
}

func TestAuthorizeThresholdKeepsBestContainedQuantity(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 100, version(1, 0.5, 1)),
		tier(100, math.Inf(1), version(1, 0.25, 1)),
	}

	// 80 buys 320 units at the upper band's factor; the lower band clamps to
	// 100. The larger contained quantity wins.
	quantity, err := testEvaluator().Authorize(tiers, 80, rateAt, ratemapdomain.ModeThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 320, quantity, 1e-9)
}

func TestAuthorizeThresholdClampsToBandUpperBound(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 100, version(1, 0.5, 1)),
	}

	// 500 would buy 1000 units but the band tops out at 100.
	quantity, err := testEvaluator().Authorize(tiers, 500, rateAt, ratemapdomain.ModeThreshold)
	require.NoError(t, err)
	assert.InDelta(t, 100, quantity, 1e-9)
}

func TestAuthorizeFlatInvertsLinearPrice(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(0, 0.25, 10)),
	}
	eval := testEvaluator()

	quantity, err := eval.Authorize(tiers, 2.5, rateAt, ratemapdomain.ModeFlat)
	require.NoError(t, err)
	assert.InDelta(t, 100, quantity, 1e-9)

	// Forward rating the authorized quantity recovers the balance.
	result, err := eval.Evaluate(tiers, quantity, rateAt, ratemapdomain.ModeFlat, false)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, result.RatedValue, 1e-9)
}

func TestAuthorizeFlatZeroFactor(t *testing.T) {
	tiers := []ratemapdomain.Tier{tier(0, math.Inf(1), version(0, 0, 1))}

	quantity, err := testEvaluator().Authorize(tiers, 100, rateAt, ratemapdomain.ModeFlat)
	require.NoError(t, err)
	assert.Zero(t, quantity)
}

func TestAuthorizeEventPerUnit(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, math.Inf(1), version(0, 2, 1)),
	}

	quantity, err := testEvaluator().Authorize(tiers, 7, rateAt, ratemapdomain.ModeEvent)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, quantity, 1e-9)
}

func TestAuthorizeEmptyTiers(t *testing.T) {
	_, err := testEvaluator().Authorize(nil, 10, rateAt, ratemapdomain.ModeTiered)
	assert.ErrorIs(t, err, ratemapdomain.ErrPriceModelUndefined)
}

func TestAuthorizeNeverGrantsMoreThanBalanceBuys(t *testing.T) {
	tiers := []ratemapdomain.Tier{
		tier(0, 60, version(10, 0.5, 1)),
		tier(60, math.Inf(1), version(10, 0.25, 1)),
	}
	eval := testEvaluator()

	for balance := 1.0; balance <= 100; balance += 3 {
		quantity, err := eval.Authorize(tiers, balance, rateAt, ratemapdomain.ModeTiered)
		require.NoError(t, err)
		if quantity == 0 {
			continue
		}
		result, err := eval.Evaluate(tiers, quantity, rateAt, ratemapdomain.ModeTiered, false)
		require.NoError(t, err)
		assert.LessOrEqual(t, result.RatedValue, balance+1e-9, "balance %f", balance)
	}
}
