package repository

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/quentel/ratecore/internal/cache"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"gorm.io/gorm"
)

const defaultPlanTTL = 10 * time.Minute

// PlanRepository assembles persisted rate-map rows into evaluation-ready
// tiers, caching the assembled form because plan lookups sit on the hot
// rating path.
type PlanRepository struct {
	db    *gorm.DB
	plans cache.Cache[string, []ratemapdomain.Tier]
	ttl   time.Duration
}

func NewPlanRepository(db *gorm.DB) *PlanRepository {
	return &PlanRepository{
		db:    db,
		plans: cache.NewTTLCache[string, []ratemapdomain.Tier](),
		ttl:   defaultPlanTTL,
	}
}

// Lookup returns the tiers of a price model ordered by band start, each with
// its validity versions sorted by start time. An unknown or empty model
// yields an empty slice; the evaluator turns that into
// ErrPriceModelUndefined.
func (r *PlanRepository) Lookup(ctx context.Context, priceModel string) ([]ratemapdomain.Tier, error) {
	if tiers, ok := r.plans.Get(priceModel); ok {
		return tiers, nil
	}

	var rows []ratemapdomain.RateMapEntry
	err := r.db.WithContext(ctx).
		Where("price_model = ?", priceModel).
		Order("step ASC, valid_from ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	tiers := Assemble(rows)
	r.plans.Set(priceModel, tiers, r.ttl)
	return tiers, nil
}

// Invalidate drops the cached form of a price model after a plan change.
func (r *PlanRepository) Invalidate(priceModel string) {
	r.plans.Delete(priceModel)
}

type band struct {
	from float64
	to   float64
}

// Assemble groups rows sharing a quantity band into one tier whose versions
// form the band's validity chain.
func Assemble(rows []ratemapdomain.RateMapEntry) []ratemapdomain.Tier {
	grouped := make(map[band]*ratemapdomain.Tier)
	order := make([]band, 0)

	for _, row := range rows {
		to := math.Inf(1)
		if row.ToValue != nil {
			to = *row.ToValue
		}
		key := band{from: row.FromValue, to: to}

		tier, ok := grouped[key]
		if !ok {
			tier = &ratemapdomain.Tier{From: key.from, To: key.to}
			grouped[key] = tier
			order = append(order, key)
		}

		version := ratemapdomain.Version{
			Beat:       row.Beat,
			Factor:     row.Factor,
			ChargeBase: row.ChargeBase,
			ValidFrom:  row.ValidFrom,
		}
		if row.ValidTo != nil {
			version.ValidTo = *row.ValidTo
		}
		tier.Versions = append(tier.Versions, version)
	}

	tiers := make([]ratemapdomain.Tier, 0, len(order))
	for _, key := range order {
		tier := grouped[key]
		sort.Slice(tier.Versions, func(i, j int) bool {
			return tier.Versions[i].ValidFrom.Before(tier.Versions[j].ValidFrom)
		})
		tiers = append(tiers, *tier)
	}

	sort.Slice(tiers, func(i, j int) bool { return tiers[i].From < tiers[j].From })
	return tiers
}
