package repository

import (
	"context"
	"time"

	"github.com/quentel/ratecore/internal/cache"
	pricegroupdomain "github.com/quentel/ratecore/internal/pricegroup/domain"
	"gorm.io/gorm"
)

const defaultMapTTL = 10 * time.Minute

// MapRepository loads price-group mapping sets with a hot-path cache.
type MapRepository struct {
	db   *gorm.DB
	maps cache.Cache[string, []pricegroupdomain.Mapping]
	ttl  time.Duration
}

func NewMapRepository(db *gorm.DB) *MapRepository {
	return &MapRepository{
		db:   db,
		maps: cache.NewTTLCache[string, []pricegroupdomain.Mapping](),
		ttl:  defaultMapTTL,
	}
}

func (r *MapRepository) Lookup(ctx context.Context, priceGroup string) ([]pricegroupdomain.Mapping, error) {
	if mappings, ok := r.maps.Get(priceGroup); ok {
		return mappings, nil
	}

	var rows []pricegroupdomain.PriceGroupMap
	err := r.db.WithContext(ctx).
		Where("price_group = ?", priceGroup).
		Order("step ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	mappings := make([]pricegroupdomain.Mapping, 0, len(rows))
	for _, row := range rows {
		mappings = append(mappings, pricegroupdomain.Mapping{
			Resource:        row.Resource,
			ResourceCounter: row.ResourceCounter,
			Metric:          row.Metric,
			PriceModel:      row.PriceModel,
			RatingType:      row.RatingType,
			ConsumeMetric:   row.ConsumeMetric,
		})
	}

	r.maps.Set(priceGroup, mappings, r.ttl)
	return mappings, nil
}

// Invalidate drops the cached mapping set for a price group.
func (r *MapRepository) Invalidate(priceGroup string) {
	r.maps.Delete(priceGroup)
}
