package service

import (
	"context"
	"fmt"

	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Expander turns abstract price groups on a record's charge packets into
// concrete (resource, metric, price model) assignments.
type Expander struct {
	log   *zap.Logger
	store pricegroupdomain.MapStore
}

type ExpanderParam struct {
	fx.In

	Log   *zap.Logger
	Store pricegroupdomain.MapStore
}

func NewExpander(p ExpanderParam) *Expander {
	return &Expander{
		log:   p.Log.Named("pricegroup.expander"),
		store: p.Store,
	}
}

// Expand resolves every unpriced time segment of every valid charge packet.
// A price group mapping to N tuples clones the seed packet N times, chained
// so that later zone-splitting shares one rounding state across the set. The
// record's packet list is replaced only after every seed expanded, never
// partially.
func (e *Expander) Expand(ctx context.Context, rec *recorddomain.RatingRecord) error {
	expanded := make([]*recorddomain.ChargePacket, 0, len(rec.ChargePackets))

	for _, seed := range rec.ChargePackets {
		if !seed.Valid {
			expanded = append(expanded, seed)
			continue
		}

		priceGroup, needsExpansion := unresolvedPriceGroup(seed)
		if !needsExpansion {
			expanded = append(expanded, seed)
			continue
		}
		if priceGroup == "" {
			return fmt.Errorf("packet for metric %q: %w", seed.Metric, pricegroupdomain.ErrPriceGroupNotFound)
		}

		mappings, err := e.store.Lookup(ctx, priceGroup)
		if err != nil {
			return fmt.Errorf("price group %q: %w", priceGroup, err)
		}
		if len(mappings) == 0 {
			return fmt.Errorf("price group %q: %w", priceGroup, pricegroupdomain.ErrPriceGroupMapNotFound)
		}

		// The seed itself is never mutated; a 1:1 mapping also goes through
		// the clone path so chaining works uniformly.
		var root *recorddomain.ChargePacket
		for _, mapping := range mappings {
			clone := seed.Clone()
			apply(clone, mapping)
			if root == nil {
				root = clone
			} else {
				root.Link(clone)
			}
			expanded = append(expanded, clone)
		}
	}

	rec.ReplaceChargePackets(expanded)
	return nil
}

func unresolvedPriceGroup(packet *recorddomain.ChargePacket) (string, bool) {
	for _, tp := range packet.TimePackets {
		if tp.PriceModel == "" {
			return tp.PriceGroup, true
		}
	}
	return "", false
}

func apply(packet *recorddomain.ChargePacket, mapping pricegroupdomain.Mapping) {
	packet.Resource = mapping.Resource
	packet.ResourceCounter = mapping.ResourceCounter
	packet.Metric = mapping.Metric
	packet.RatingType = mapping.RatingType
	packet.ConsumeMetric = mapping.ConsumeMetric
	for i := range packet.TimePackets {
		if packet.TimePackets[i].PriceModel == "" {
			packet.TimePackets[i].PriceModel = mapping.PriceModel
		}
	}
}
