// Package domain defines the rating driver contract.
package domain

import (
	"context"
	"errors"
	"time"

	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
)

// Driver runs usage records through the full rating pipeline: price-group
// expansion, time-zone splitting, rate-map evaluation and counter
// consumption.
type Driver interface {
	// RateRecord expands, splits and rates a single record in place.
	RateRecord(ctx context.Context, rec *recorddomain.RatingRecord) error
	// ApplyDiscounts runs the configured discount rules against the record
	// inside the given transaction's counter view.
	ApplyDiscounts(ctx context.Context, txID int64, rec *recorddomain.RatingRecord) error
	// RateBatch rates a whole batch under one transaction and attaches the
	// results for commit.
	RateBatch(ctx context.Context, txID int64, recs []*recorddomain.RatingRecord) error
	// Authorize inverts a price model: how much usage the balance can buy.
	Authorize(ctx context.Context, priceModel string, mode ratemapdomain.Mode, balance float64, at time.Time) (float64, error)
}

// Expander resolves price groups on a record's charge packets.
type Expander interface {
	Expand(ctx context.Context, rec *recorddomain.RatingRecord) error
}

// Splitter resolves billing zones and partitions packets across zone
// boundaries.
type Splitter interface {
	Split(ctx context.Context, rec *recorddomain.RatingRecord) error
}

var (
	ErrNotARatingRecord = errors.New("not_a_rating_record")
	ErrResourceNotSet   = errors.New("resource_not_set")
)
