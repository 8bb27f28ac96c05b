package service

import (
	"math"
	"time"

	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"go.uber.org/zap"
)

// Authorize solves the inverse rating problem: given an available balance,
// how many usage units can be bought under the price model. It mirrors the
// Evaluate algorithms tier by tier and stops at the point where the
// accumulated cost would exceed the balance.
func (e *Evaluator) Authorize(
	tiers []ratemapdomain.Tier,
	balance float64,
	at time.Time,
	mode ratemapdomain.Mode,
) (float64, error) {
	if len(tiers) == 0 {
		return 0, ratemapdomain.ErrPriceModelUndefined
	}
	if balance <= 0 {
		return 0, nil
	}

	switch mode {
	case ratemapdomain.ModeTiered:
		return e.authorizeTiered(tiers, balance, at)
	case ratemapdomain.ModeThreshold:
		return e.authorizeThreshold(tiers, balance, at)
	case ratemapdomain.ModeFlat:
		return e.authorizeFlat(tiers, balance, at)
	case ratemapdomain.ModeEvent:
		return e.authorizeEvent(tiers, balance, at)
	default:
		return 0, ratemapdomain.ErrUnknownMode
	}
}

func (e *Evaluator) authorizeTiered(
	tiers []ratemapdomain.Tier,
	balance float64,
	at time.Time,
) (float64, error) {
	units := 0.0
	remaining := balance

	for _, tier := range tiers {
		if tier.Singularity() {
			continue
		}
		version, ok := tier.VersionAt(at)
		if !ok {
			return 0, ratemapdomain.ErrValidityNotCovered
		}

		span := tier.To - tier.From
		base := version.ChargeBase
		if base == 0 {
			base = 1
		}
		beat := version.Beat
		if beat <= 0 {
			beat = 1
		}
		costPerBeat := version.Factor * beat / base

		// Free band: grant the whole span and move on. The range loop keeps
		// advancing the tier index, so a zero-factor band can never stall
		// the search. An open-ended free band cannot grant infinite usage;
		// the walk stops there.
		if costPerBeat <= 0 {
			if math.IsInf(span, 1) {
				e.log.Warn("open-ended zero-factor tier in authorization",
					zap.Float64("tier_from", tier.From))
				return units, nil
			}
			units += span
			continue
		}

		fullBeats := math.Ceil(span / beat)
		if math.IsInf(span, 1) {
			fullBeats = math.Inf(1)
		}
		fullCost := fullBeats * costPerBeat

		if remaining >= fullCost {
			units += span
			remaining -= fullCost
			continue
		}

		beats := math.Floor(remaining / costPerBeat)
		if beats <= 0 {
			break
		}
		granted := beats * beat
		if granted > span {
			granted = span
		}
		units += granted
		break
	}

	return units, nil
}

// authorizeThreshold rates the whole purchasable quantity against each band
// and keeps the best quantity that lands inside its band.
func (e *Evaluator) authorizeThreshold(
	tiers []ratemapdomain.Tier,
	balance float64,
	at time.Time,
) (float64, error) {
	best := 0.0

	for _, tier := range tiers {
		if tier.Singularity() {
			continue
		}
		version, ok := tier.VersionAt(at)
		if !ok {
			return 0, ratemapdomain.ErrValidityNotCovered
		}

		base := version.ChargeBase
		if base == 0 {
			base = 1
		}
		beat := version.Beat
		if beat <= 0 {
			beat = 1
		}
		costPerBeat := version.Factor * beat / base
		if costPerBeat <= 0 {
			continue
		}

		beats := math.Floor(balance / costPerBeat)
		quantity := beats * beat
		if quantity > tier.To {
			quantity = tier.To
		}
		if quantity <= tier.From {
			continue
		}
		if quantity > best {
			best = quantity
		}
	}

	return best, nil
}

func (e *Evaluator) authorizeFlat(
	tiers []ratemapdomain.Tier,
	balance float64,
	at time.Time,
) (float64, error) {
	version, ok := tiers[0].VersionAt(at)
	if !ok {
		return 0, ratemapdomain.ErrValidityNotCovered
	}
	if version.Factor <= 0 {
		return 0, nil
	}
	base := version.ChargeBase
	if base == 0 {
		base = 1
	}
	return balance * base / version.Factor, nil
}

func (e *Evaluator) authorizeEvent(
	tiers []ratemapdomain.Tier,
	balance float64,
	at time.Time,
) (float64, error) {
	units := 0.0
	remaining := balance

	for _, tier := range tiers {
		if tier.Singularity() {
			continue
		}
		version, ok := tier.VersionAt(at)
		if !ok {
			return 0, ratemapdomain.ErrValidityNotCovered
		}

		span := tier.To - tier.From
		if version.Factor <= 0 {
			if math.IsInf(span, 1) {
				e.log.Warn("open-ended zero-factor tier in authorization",
					zap.Float64("tier_from", tier.From))
				return units, nil
			}
			units += span
			continue
		}

		fullCost := span * version.Factor
		if remaining >= fullCost {
			units += span
			remaining -= fullCost
			continue
		}

		units += remaining / version.Factor
		break
	}

	return units, nil
}
