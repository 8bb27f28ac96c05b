// Package domain contains counter and discount types.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Counter is a bounded balance bucket. Its balance never leaves
// [0, allotment] under consume/refund; aggregation counters grow upward
// without bound.
type Counter struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	BalanceGroup   int64        `gorm:"not null;uniqueIndex:ux_counters_group_counter,priority:1"`
	CounterID      int64        `gorm:"not null;uniqueIndex:ux_counters_group_counter,priority:2"`
	RecordID       snowflake.ID `gorm:"not null"`
	CurrentBalance float64      `gorm:"type:numeric;not null"`
	ValidFrom      time.Time    `gorm:"not null;uniqueIndex:ux_counters_group_counter,priority:3"`
	ValidTo        time.Time    `gorm:""`
	CreatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "counters" }

// Covers reports whether the counter's validity window contains the instant.
func (c *Counter) Covers(at time.Time) bool {
	if at.Before(c.ValidFrom) {
		return false
	}
	if c.ValidTo.IsZero() {
		return true
	}
	return at.Before(c.ValidTo)
}

// Store is the counter state a consumption operation runs against. During an
// open transaction this is the transaction's scratch overlay, never the
// shared cache.
type Store interface {
	Find(balanceGroup, counterID int64, at time.Time) (*Counter, bool)
	Save(counter *Counter)
}

// Outcome is the categorical result of a consumption operation.
type Outcome string

const (
	OutcomeNoDiscount          Outcome = "NO_DISCOUNT"
	OutcomeFullyDiscounted     Outcome = "FULLY_DISCOUNTED"
	OutcomePartiallyDiscounted Outcome = "PARTIALLY_DISCOUNTED"
	OutcomeRefunded            Outcome = "REFUNDED"
	OutcomeAggregated          Outcome = "AGGREGATED"
)

// DiscountInformation summarizes one consumption operation for the caller.
type DiscountInformation struct {
	Applied          bool
	BalanceCreated   bool
	Outcome          Outcome
	CounterID        int64
	RecordID         snowflake.ID
	DiscountedValue  float64
	ResultingBalance float64
}

var ErrRefundWithoutCounter = errors.New("refund_without_counter")
