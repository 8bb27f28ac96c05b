package service

import (
	"math"
	"time"

	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Evaluator implements the four rating algorithms over assembled tiers.
// It holds no per-call state and is safe for concurrent use.
type Evaluator struct {
	log *zap.Logger
}

type EvaluatorParam struct {
	fx.In

	Log *zap.Logger
}

func NewEvaluator(p EvaluatorParam) ratemapdomain.Evaluator {
	return &Evaluator{log: p.Log.Named("ratemap.evaluator")}
}

func (e *Evaluator) Evaluate(
	tiers []ratemapdomain.Tier,
	value float64,
	at time.Time,
	mode ratemapdomain.Mode,
	withBreakdown bool,
) (ratemapdomain.Result, error) {
	if len(tiers) == 0 {
		return ratemapdomain.Result{}, ratemapdomain.ErrPriceModelUndefined
	}
	if value < 0 {
		value = 0
	}

	switch mode {
	case ratemapdomain.ModeTiered:
		return e.evaluateTiered(tiers, value, at, withBreakdown)
	case ratemapdomain.ModeThreshold:
		return e.evaluateThreshold(tiers, value, at, withBreakdown)
	case ratemapdomain.ModeFlat:
		return e.evaluateFlat(tiers, value, at, withBreakdown)
	case ratemapdomain.ModeEvent:
		return e.evaluateEvent(tiers, value, at, withBreakdown)
	default:
		return ratemapdomain.Result{}, ratemapdomain.ErrUnknownMode
	}
}

// evaluateTiered walks every tier the quantity reaches into and charges each
// band in whole beats. A band that contributes no usage still charges one
// beat, which guarantees a minimum charge for singularity tiers.
func (e *Evaluator) evaluateTiered(
	tiers []ratemapdomain.Tier,
	value float64,
	at time.Time,
	withBreakdown bool,
) (ratemapdomain.Result, error) {
	var result ratemapdomain.Result

	for _, tier := range tiers {
		if tier.From >= value {
			continue
		}
		version, ok := tier.VersionAt(at)
		if !ok {
			return ratemapdomain.Result{}, ratemapdomain.ErrValidityNotCovered
		}

		upper := math.Min(value, tier.To)
		usedInTier := upper - tier.From
		if usedInTier < 0 {
			usedInTier = 0
		}

		beats := 0.0
		if version.Beat > 0 {
			beats = math.Ceil(usedInTier / version.Beat)
		}
		if beats == 0 {
			beats = 1
		}

		base := version.ChargeBase
		if base == 0 {
			base = 1
		}
		amount := beats * version.Factor * version.Beat / base

		result.RatedValue += amount
		result.UsageUsed += usedInTier
		if withBreakdown {
			result.Breakdown = append(result.Breakdown, step(tier, version, beats, amount, usedInTier))
		}
	}

	return result, nil
}

// evaluateThreshold charges the whole quantity at the single band containing
// it. A singularity band (from == to) matching the exact quantity charges one
// beat.
func (e *Evaluator) evaluateThreshold(
	tiers []ratemapdomain.Tier,
	value float64,
	at time.Time,
	withBreakdown bool,
) (ratemapdomain.Result, error) {
	var result ratemapdomain.Result

	for _, tier := range tiers {
		var match bool
		if tier.Singularity() {
			match = value == tier.From
		} else {
			match = tier.From < value && value <= tier.To
		}
		if !match {
			continue
		}

		version, ok := tier.VersionAt(at)
		if !ok {
			return ratemapdomain.Result{}, ratemapdomain.ErrValidityNotCovered
		}

		beats := 1.0
		if !tier.Singularity() && version.Beat > 0 {
			beats = math.Ceil(value / version.Beat)
			if beats == 0 {
				beats = 1
			}
		}

		base := version.ChargeBase
		if base == 0 {
			base = 1
		}
		amount := beats * version.Factor * version.Beat / base

		result.RatedValue = amount
		result.UsageUsed = value
		if withBreakdown {
			result.Breakdown = append(result.Breakdown, step(tier, version, beats, amount, value))
		}
		break
	}

	return result, nil
}

// evaluateFlat prices the quantity linearly against the first tier. Beats and
// band bounds do not apply.
func (e *Evaluator) evaluateFlat(
	tiers []ratemapdomain.Tier,
	value float64,
	at time.Time,
	withBreakdown bool,
) (ratemapdomain.Result, error) {
	tier := tiers[0]
	version, ok := tier.VersionAt(at)
	if !ok {
		return ratemapdomain.Result{}, ratemapdomain.ErrValidityNotCovered
	}

	base := version.ChargeBase
	if base == 0 {
		base = 1
	}
	amount := value * version.Factor / base

	result := ratemapdomain.Result{RatedValue: amount, UsageUsed: value}
	if withBreakdown {
		result.Breakdown = append(result.Breakdown, step(tier, version, 0, amount, value))
	}
	return result, nil
}

// evaluateEvent walks tiers like TIERED but charges per usage unit with no
// beat rounding. An empty band span is floored to one unit before pricing.
func (e *Evaluator) evaluateEvent(
	tiers []ratemapdomain.Tier,
	value float64,
	at time.Time,
	withBreakdown bool,
) (ratemapdomain.Result, error) {
	var result ratemapdomain.Result

	for _, tier := range tiers {
		if tier.From >= value {
			continue
		}
		version, ok := tier.VersionAt(at)
		if !ok {
			return ratemapdomain.Result{}, ratemapdomain.ErrValidityNotCovered
		}

		upper := math.Min(value, tier.To)
		usedInTier := upper - tier.From
		if usedInTier < 0 {
			usedInTier = 0
		}

		span := usedInTier
		if span == 0 {
			span = 1
		}
		amount := span * version.Factor

		result.RatedValue += amount
		result.UsageUsed += usedInTier
		if withBreakdown {
			result.Breakdown = append(result.Breakdown, step(tier, version, span, amount, usedInTier))
		}
	}

	return result, nil
}

func step(
	tier ratemapdomain.Tier,
	version ratemapdomain.Version,
	beats, amount, used float64,
) ratemapdomain.Step {
	return ratemapdomain.Step{
		TierFrom:    tier.From,
		TierTo:      tier.To,
		Beat:        version.Beat,
		BeatCount:   beats,
		Factor:      version.Factor,
		ChargeBase:  version.ChargeBase,
		RatedAmount: amount,
		UsageUsed:   used,
		ValidFrom:   version.ValidFrom,
		ValidTo:     version.ValidTo,
	}
}
