// Package domain contains the price-group mapping types.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
)

// PriceGroupMap is one persisted mapping row. A price group resolving to
// several rows expands one seed charge packet into several resource impacts.
type PriceGroupMap struct {
	ID              snowflake.ID       `gorm:"primaryKey"`
	PriceGroup      string             `gorm:"type:text;not null;index:idx_price_group_maps_group"`
	Step            int                `gorm:"not null"`
	Resource        string             `gorm:"type:text;not null"`
	ResourceCounter int64              `gorm:"not null;default:0"`
	Metric          string             `gorm:"type:text;not null"`
	PriceModel      string             `gorm:"type:text;not null"`
	RatingType      ratemapdomain.Mode `gorm:"type:text;not null"`
	ConsumeMetric   bool               `gorm:"not null;default:false"`
	CreatedAt       time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceGroupMap) TableName() string { return "price_group_maps" }

// Mapping is the resolved tuple applied to an expanded charge packet.
type Mapping struct {
	Resource        string
	ResourceCounter int64
	Metric          string
	PriceModel      string
	RatingType      ratemapdomain.Mode
	ConsumeMetric   bool
}

// MapStore resolves a price group into its mapping set.
type MapStore interface {
	Lookup(ctx context.Context, priceGroup string) ([]Mapping, error)
}

var (
	ErrPriceGroupNotFound    = errors.New("price_group_not_found")
	ErrPriceGroupMapNotFound = errors.New("price_group_map_not_found")
)
