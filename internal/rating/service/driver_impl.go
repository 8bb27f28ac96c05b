package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	balanceservice "github.com/quentel/ratecore/internal/balance/service"
	"github.com/quentel/ratecore/internal/config"
	"github.com/quentel/ratecore/internal/observability"
	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	ratingdomain "github.com/quentel/ratecore/internal/rating/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"github.com/quentel/ratecore/internal/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Driver orchestrates the rating pipeline for one record at a time. In local
// reporting mode a per-record data fault is attached to the record and the
// batch carries on; in strict mode the first fault aborts the batch.
// Configuration faults (undefined price model, validity gaps) and
// infrastructure errors abort in both modes.
type Driver struct {
	log       *zap.Logger
	cfg       config.Config
	expander  ratingdomain.Expander
	splitter  ratingdomain.Splitter
	plans     ratemapdomain.PlanStore
	evaluator ratemapdomain.Evaluator
	engine    *balanceservice.Engine
	discounts *config.DiscountConfigHolder
	arena     *txn.Arena
	metrics   *observability.Metrics
}

type DriverParam struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	Expander  ratingdomain.Expander
	Splitter  ratingdomain.Splitter
	Plans     ratemapdomain.PlanStore
	Evaluator ratemapdomain.Evaluator
	Engine    *balanceservice.Engine
	Discounts *config.DiscountConfigHolder
	Arena     *txn.Arena
	Metrics   *observability.Metrics `optional:"true"`
}

func NewDriver(p DriverParam) ratingdomain.Driver {
	return &Driver{
		log:       p.Log.Named("rating.driver"),
		cfg:       p.Cfg,
		expander:  p.Expander,
		splitter:  p.Splitter,
		plans:     p.Plans,
		evaluator: p.Evaluator,
		engine:    p.Engine,
		discounts: p.Discounts,
		arena:     p.Arena,
		metrics:   p.Metrics,
	}
}

func (d *Driver) strict() bool {
	return d.cfg.Engine.ReportingMode == config.ReportingModeStrict
}

// RateRecord expands price groups, splits across zone boundaries and rates
// every valid charge packet in place.
func (d *Driver) RateRecord(ctx context.Context, rec *recorddomain.RatingRecord) error {
	if !rec.Rateable() {
		if d.strict() {
			return fmt.Errorf("record %d kind %q: %w", rec.ID, rec.Kind, ratingdomain.ErrNotARatingRecord)
		}
		d.fault(ctx, rec, recorddomain.ErrKindNotARatingRecord, "rating", string(rec.Kind))
		return nil
	}

	if err := d.expander.Expand(ctx, rec); err != nil {
		return d.stageFault(ctx, rec, "pricegroup", err)
	}
	if err := d.splitter.Split(ctx, rec); err != nil {
		return d.stageFault(ctx, rec, "timemodel", err)
	}
	if rec.HasErrors() {
		return nil
	}

	return d.ratePackets(ctx, rec)
}

// chainState carries beat-rounding across the packets of one consumption
// chain: a segment's over-rounded usage is deducted from the next segment's
// share so the chain never charges more beats than the whole event needs.
// The raw quantity is captured once per chain, before any consume-metric
// packet drains the record's metric value.
type chainState struct {
	quantity float64
	expected float64
	rounded  float64
}

type chainKey struct {
	root   *recorddomain.ChargePacket
	metric string
}

func (d *Driver) ratePackets(ctx context.Context, rec *recorddomain.RatingRecord) error {
	chains := make(map[chainKey]*chainState)

	for _, packet := range rec.ChargePackets {
		if !packet.Valid {
			continue
		}
		if packet.ConsumeMetric && packet.Resource == "" {
			if d.strict() {
				return fmt.Errorf("record %d metric %q: %w", rec.ID, packet.Metric, ratingdomain.ErrResourceNotSet)
			}
			d.fault(ctx, rec, recorddomain.ErrKindResourceNotSet, "rating", packet.Metric)
			packet.Valid = false
			continue
		}

		key := chainKey{root: packet.ChainRoot(), metric: packet.Metric}
		state, ok := chains[key]
		if !ok {
			quantity := packet.Quantity
			if quantity == 0 && packet.Metric != "" {
				quantity = rec.MetricValue(packet.Metric)
			}
			state = &chainState{quantity: quantity}
			chains[key] = state
		}

		if err := d.ratePacket(ctx, rec, packet, state.quantity, state); err != nil {
			if d.strict() {
				return err
			}
			kind, known := classify(err)
			if !known {
				return err
			}
			d.fault(ctx, rec, kind, "rating", err.Error())
			packet.Valid = false
			if packet.Priority == 0 {
				return nil
			}
		}
	}

	d.metrics.RecordRated(ctx, rec.ChargedValue())
	return nil
}

func (d *Driver) ratePacket(
	ctx context.Context,
	rec *recorddomain.RatingRecord,
	packet *recorddomain.ChargePacket,
	quantity float64,
	state *chainState,
) error {
	for i := range packet.TimePackets {
		tp := &packet.TimePackets[i]

		factor := tp.SplittingFactor
		if factor == 0 {
			factor = 1
		}
		state.expected += quantity * factor
		apportioned := state.expected - state.rounded
		if apportioned < 0 {
			apportioned = 0
		}

		tiers, err := d.plans.Lookup(ctx, tp.PriceModel)
		if err != nil {
			return fmt.Errorf("price model %q: %w", tp.PriceModel, err)
		}

		result, err := d.evaluator.Evaluate(tiers, apportioned, rec.EventStart, packet.RatingType, true)
		if err != nil {
			return fmt.Errorf("price model %q: %w", tp.PriceModel, err)
		}

		state.rounded += roundedUsage(packet.RatingType, result)

		packet.ChargedValue += result.RatedValue
		packet.Breakdown = append(packet.Breakdown, result.Breakdown...)
		if packet.ConsumeMetric && packet.Metric != "" {
			rec.UpdateMetricValue(packet.Metric, -result.UsageUsed)
		}
	}
	return nil
}

// roundedUsage derives the beat-rounded usage a rating actually charged for,
// which is what the chain's carry-over must account against.
func roundedUsage(mode ratemapdomain.Mode, result ratemapdomain.Result) float64 {
	if mode != ratemapdomain.ModeTiered && mode != ratemapdomain.ModeThreshold {
		return result.UsageUsed
	}
	charged := 0.0
	for _, step := range result.Breakdown {
		charged += step.BeatCount * step.Beat
	}
	if charged < result.UsageUsed {
		return result.UsageUsed
	}
	return charged
}

// ApplyDiscounts matches the configured discount rules against the record's
// metrics and runs each through the balance engine, scoped to the
// transaction's counter view.
func (d *Driver) ApplyDiscounts(ctx context.Context, txID int64, rec *recorddomain.RatingRecord) error {
	if !rec.Rateable() {
		return nil
	}

	store := d.arena.View(txID)

	for _, rule := range d.discounts.Get().Rules {
		if _, ok := rec.Metrics[rule.Metric]; !ok {
			continue
		}

		req := balanceservice.Request{
			Metric:         rule.Metric,
			BalanceGroup:   rule.BalanceGroup,
			CounterID:      rule.CounterID,
			InitialBalance: rule.InitialBalance,
			ValidFrom:      rec.EventStart,
			RuleName:       rule.Name,
		}
		if rule.ValidityDays > 0 {
			req.ValidTo = rec.EventStart.AddDate(0, 0, rule.ValidityDays)
		}

		switch rule.Operation {
		case config.DiscountOperationConsume:
			info := d.engine.Consume(store, rec, req)
			d.metrics.RecordCounterMove(ctx, string(info.Outcome))
		case config.DiscountOperationRefund:
			info, err := d.engine.Refund(store, rec, req)
			if err != nil {
				if d.strict() {
					return fmt.Errorf("rule %q: %w", rule.Name, err)
				}
				d.log.Warn("refund skipped",
					zap.String("rule", rule.Name),
					zap.Int64("counter_id", rule.CounterID),
					zap.Error(err),
				)
				continue
			}
			d.metrics.RecordCounterMove(ctx, string(info.Outcome))
		case config.DiscountOperationAggregate:
			info := d.engine.Aggregate(store, rec, req)
			d.metrics.RecordCounterMove(ctx, string(info.Outcome))
		}
	}
	return nil
}

// RateBatch rates every record of a batch under one transaction and attaches
// the results to the arena for commit.
func (d *Driver) RateBatch(ctx context.Context, txID int64, recs []*recorddomain.RatingRecord) error {
	d.arena.Begin(txID)

	for _, rec := range recs {
		rec.TransactionID = txID
		if err := d.RateRecord(ctx, rec); err != nil {
			return err
		}
		if rec.HasErrors() {
			d.arena.Attach(txID, rec)
			continue
		}
		if err := d.ApplyDiscounts(ctx, txID, rec); err != nil {
			return err
		}
		d.arena.Attach(txID, rec)
	}
	return nil
}

// Authorize inverts the price model: the usage quantity the balance can buy.
func (d *Driver) Authorize(
	ctx context.Context,
	priceModel string,
	mode ratemapdomain.Mode,
	balance float64,
	at time.Time,
) (float64, error) {
	tiers, err := d.plans.Lookup(ctx, priceModel)
	if err != nil {
		return 0, fmt.Errorf("price model %q: %w", priceModel, err)
	}
	quantity, err := d.evaluator.Authorize(tiers, balance, at, mode)
	if err != nil {
		return 0, fmt.Errorf("price model %q: %w", priceModel, err)
	}
	d.metrics.RecordAuthorization(ctx, string(mode))
	return quantity, nil
}

func (d *Driver) fault(ctx context.Context, rec *recorddomain.RatingRecord, kind recorddomain.ErrorKind, module, detail string) {
	rec.AddError(kind, module, detail)
	d.metrics.RecordRatingError(ctx, string(kind))
	d.log.Debug("record fault",
		zap.Int64("record_id", int64(rec.ID)),
		zap.String("kind", string(kind)),
		zap.String("module", module),
		zap.String("detail", detail),
	)
}

// stageFault routes an expansion or splitting error into the record (local
// mode) or up the stack (strict mode). Unknown errors always go up.
func (d *Driver) stageFault(ctx context.Context, rec *recorddomain.RatingRecord, module string, err error) error {
	kind, known := classify(err)
	if !known || d.strict() {
		return err
	}
	d.fault(ctx, rec, kind, module, err.Error())
	return nil
}

// classify maps per-record data faults to their record error kind. Undefined
// price models and validity gaps are configuration faults and stay
// unclassified, so they abort the batch regardless of reporting mode.
func classify(err error) (recorddomain.ErrorKind, bool) {
	switch {
	case errors.Is(err, pricegroupdomain.ErrPriceGroupNotFound):
		return recorddomain.ErrKindPriceGroupNotFound, true
	case errors.Is(err, pricegroupdomain.ErrPriceGroupMapNotFound):
		return recorddomain.ErrKindPriceGroupMapEmpty, true
	case errors.Is(err, timemodeldomain.ErrZoneOrTimeNotFound):
		return recorddomain.ErrKindZoneOrTimeNotFound, true
	default:
		return "", false
	}
}
