package domain

import (
	"context"
	"errors"
	"time"
)

// Evaluator rates usage quantities against a price model, or inverts the
// calculation to find how much usage a balance can buy.
type Evaluator interface {
	Evaluate(tiers []Tier, value float64, at time.Time, mode Mode, withBreakdown bool) (Result, error)
	Authorize(tiers []Tier, balance float64, at time.Time, mode Mode) (float64, error)
}

// PlanStore resolves a price model name into its evaluation-ready tiers.
type PlanStore interface {
	Lookup(ctx context.Context, priceModel string) ([]Tier, error)
}

var (
	ErrPriceModelUndefined = errors.New("price_model_undefined")
	ErrValidityNotCovered  = errors.New("validity_not_covered")
	ErrUnknownMode         = errors.New("unknown_rating_mode")
)
