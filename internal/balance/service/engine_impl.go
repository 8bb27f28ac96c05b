package service

import (
	"time"

	"github.com/bwmarrin/snowflake"
	balancedomain "github.com/quentel/ratecore/internal/balance/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Engine applies counter consumption, refunds and aggregation to rating
// records. It carries no counter state of its own; every operation runs
// against the Store it is handed, which is how transaction overlay isolation
// stays out of the arithmetic.
type Engine struct {
	log   *zap.Logger
	genID *snowflake.Node
}

type EngineParam struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
}

func NewEngine(p EngineParam) *Engine {
	return &Engine{
		log:   p.Log.Named("balance.engine"),
		genID: p.GenID,
	}
}

// Request names the counter a consumption operation targets.
type Request struct {
	Metric         string
	BalanceGroup   int64
	CounterID      int64
	InitialBalance float64
	ValidFrom      time.Time
	ValidTo        time.Time
	RuleName       string
}

// Consume decrements the counter by the record's metric value, up to
// exhaustion. Crossing the threshold consumes only what is left and reduces
// the record's metric by that amount; an exhausted counter is a no-op.
func (e *Engine) Consume(
	store balancedomain.Store,
	rec *recorddomain.RatingRecord,
	req Request,
) balancedomain.DiscountInformation {
	counter, created := e.fetchOrCreate(store, rec, req)

	info := balancedomain.DiscountInformation{
		BalanceCreated: created,
		Outcome:        balancedomain.OutcomeNoDiscount,
		CounterID:      req.CounterID,
		RecordID:       rec.ID,
	}

	requested := rec.MetricValue(req.Metric)

	if requested > counter.CurrentBalance {
		if counter.CurrentBalance <= 0 {
			// Already exhausted.
			info.ResultingBalance = counter.CurrentBalance
			return info
		}

		consumed := counter.CurrentBalance
		rec.UpdateMetricValue(req.Metric, -consumed)
		e.move(rec, counter, req, recorddomain.ImpactConsume, -consumed, consumed, requested-consumed)
		counter.CurrentBalance = 0
		store.Save(counter)

		info.Applied = true
		info.Outcome = balancedomain.OutcomePartiallyDiscounted
		info.DiscountedValue = consumed
		info.ResultingBalance = 0
		return info
	}

	rec.SetMetricValue(req.Metric, 0)
	e.move(rec, counter, req, recorddomain.ImpactConsume, -requested, requested, 0)
	counter.CurrentBalance -= requested
	store.Save(counter)

	info.Applied = true
	info.Outcome = balancedomain.OutcomeFullyDiscounted
	info.DiscountedValue = requested
	info.ResultingBalance = counter.CurrentBalance
	return info
}

// Refund returns previously consumed usage to the counter, capped so the
// balance never exceeds the original allotment. The record's metric is left
// untouched; a refunded quantity has no further meaning. A refund against a
// counter that was never created yields no summary.
func (e *Engine) Refund(
	store balancedomain.Store,
	rec *recorddomain.RatingRecord,
	req Request,
) (*balancedomain.DiscountInformation, error) {
	counter, ok := store.Find(req.BalanceGroup, req.CounterID, rec.EventStart)
	if !ok {
		return nil, balancedomain.ErrRefundWithoutCounter
	}

	refund := rec.MetricValue(req.Metric)
	if headroom := req.InitialBalance - counter.CurrentBalance; refund > headroom {
		refund = headroom
	}
	if refund < 0 {
		refund = 0
	}

	e.move(rec, counter, req, recorddomain.ImpactRefund, refund, refund, 0)
	counter.CurrentBalance += refund
	store.Save(counter)

	return &balancedomain.DiscountInformation{
		Applied:          refund != 0,
		Outcome:          balancedomain.OutcomeRefunded,
		CounterID:        req.CounterID,
		RecordID:         rec.ID,
		DiscountedValue:  refund,
		ResultingBalance: counter.CurrentBalance,
	}, nil
}

// Aggregate accumulates the record's metric value upward from the initial
// balance without bound. The metric itself is left untouched.
func (e *Engine) Aggregate(
	store balancedomain.Store,
	rec *recorddomain.RatingRecord,
	req Request,
) balancedomain.DiscountInformation {
	counter, created := e.fetchOrCreate(store, rec, req)

	value := rec.MetricValue(req.Metric)
	e.move(rec, counter, req, recorddomain.ImpactAggregation, value, value, 0)
	counter.CurrentBalance += value
	store.Save(counter)

	return balancedomain.DiscountInformation{
		Applied:          value != 0,
		BalanceCreated:   created,
		Outcome:          balancedomain.OutcomeAggregated,
		CounterID:        req.CounterID,
		RecordID:         rec.ID,
		DiscountedValue:  value,
		ResultingBalance: counter.CurrentBalance,
	}
}

// fetchOrCreate resolves the counter in its validity window, creating it
// lazily on first reference. Creation emits its impact only for a non-zero
// starting balance.
func (e *Engine) fetchOrCreate(
	store balancedomain.Store,
	rec *recorddomain.RatingRecord,
	req Request,
) (*balancedomain.Counter, bool) {
	if counter, ok := store.Find(req.BalanceGroup, req.CounterID, rec.EventStart); ok {
		return counter, false
	}

	counter := &balancedomain.Counter{
		ID:             e.genID.Generate(),
		BalanceGroup:   req.BalanceGroup,
		CounterID:      req.CounterID,
		RecordID:       rec.ID,
		CurrentBalance: req.InitialBalance,
		ValidFrom:      req.ValidFrom,
		ValidTo:        req.ValidTo,
	}
	store.Save(counter)

	if req.InitialBalance != 0 {
		rec.AddBalanceImpact(recorddomain.BalanceImpact{
			ID:            e.genID.Generate(),
			Type:          recorddomain.ImpactCreation,
			BalanceGroup:  req.BalanceGroup,
			CounterID:     req.CounterID,
			BalanceBefore: 0,
			BalanceAfter:  req.InitialBalance,
			Delta:         req.InitialBalance,
			RuleName:      req.RuleName,
			ValidFrom:     req.ValidFrom,
			ValidTo:       req.ValidTo,
		})
	}

	return counter, true
}

// move emits the audit impact for one balance movement. Zero deltas are
// suppressed; nothing moved, nothing to audit.
func (e *Engine) move(
	rec *recorddomain.RatingRecord,
	counter *balancedomain.Counter,
	req Request,
	impactType recorddomain.ImpactType,
	delta, used, left float64,
) {
	if delta == 0 {
		return
	}
	rec.AddBalanceImpact(recorddomain.BalanceImpact{
		ID:            e.genID.Generate(),
		Type:          impactType,
		BalanceGroup:  req.BalanceGroup,
		CounterID:     req.CounterID,
		UsageUsed:     used,
		UsageLeft:     left,
		BalanceBefore: counter.CurrentBalance,
		BalanceAfter:  counter.CurrentBalance + delta,
		Delta:         delta,
		RuleName:      req.RuleName,
		ValidFrom:     counter.ValidFrom,
		ValidTo:       counter.ValidTo,
	})
}
