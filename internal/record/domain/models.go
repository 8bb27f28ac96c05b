// Package domain contains the rating record and its packet containers.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ratemapdomain "github.com/quentel/ratecore/internal/ratemap/domain"
	"gorm.io/datatypes"
)

// Kind tags the record type presented to the engine. Only usage records are
// rateable; anything else fed to a metric-aware operation is a caller fault.
type Kind string

const (
	KindUsage   Kind = "usage"
	KindHeader  Kind = "header"
	KindTrailer Kind = "trailer"
)

// SplittingMode selects how a charge packet is partitioned over billing
// time zones.
type SplittingMode string

const (
	SplitNone    SplittingMode = "NO_CHECK"
	SplitHoliday SplittingMode = "HOLIDAY"
	SplitCheck   SplittingMode = "CHECK_SPLITTING"
)

// TimePacket is one time-zone segment within a charge packet.
type TimePacket struct {
	TimeModel string
	// ZoneResult is the billing zone label resolved for this segment.
	ZoneResult string
	// Duration and TotalDuration are in seconds; the sum of segment
	// durations over one split event equals the event's total duration.
	Duration      int64
	TotalDuration int64
	// SplittingFactor is the fraction of usage attributable to this segment.
	SplittingFactor float64
	PriceGroup      string
	PriceModel      string
}

// ChargePacket is one billable segment of a usage event.
type ChargePacket struct {
	Valid bool
	// Priority 0 marks the base packet; errors on it fail the record.
	Priority        int
	Metric          string
	Quantity        float64
	Resource        string
	ResourceCounter int64
	RatingType      ratemapdomain.Mode
	Description     string
	ConsumeMetric   bool
	Splitting       SplittingMode
	ChargedValue    float64
	TimePackets     []TimePacket
	Breakdown       []ratemapdomain.Step

	// Prev/Next chain packets expanded from one seed so that zone-splitting
	// rounding state is shared across the whole resource-impact set.
	Prev *ChargePacket
	Next *ChargePacket
}

// Clone copies the packet without its chain links or accumulated charge.
func (p *ChargePacket) Clone() *ChargePacket {
	clone := &ChargePacket{
		Valid:           p.Valid,
		Priority:        p.Priority,
		Metric:          p.Metric,
		Quantity:        p.Quantity,
		Resource:        p.Resource,
		ResourceCounter: p.ResourceCounter,
		RatingType:      p.RatingType,
		Description:     p.Description,
		ConsumeMetric:   p.ConsumeMetric,
		Splitting:       p.Splitting,
	}
	clone.TimePackets = make([]TimePacket, len(p.TimePackets))
	copy(clone.TimePackets, p.TimePackets)
	return clone
}

// Link appends next to the packet's consumption chain.
func (p *ChargePacket) Link(next *ChargePacket) {
	tail := p
	for tail.Next != nil {
		tail = tail.Next
	}
	tail.Next = next
	next.Prev = tail
}

// ChainRoot walks back to the seed packet of the consumption chain.
func (p *ChargePacket) ChainRoot() *ChargePacket {
	root := p
	for root.Prev != nil {
		root = root.Prev
	}
	return root
}

// ImpactType tags the counter movement recorded by a BalanceImpact.
type ImpactType string

const (
	ImpactCreation    ImpactType = "CREATION"
	ImpactConsume     ImpactType = "CONSUME"
	ImpactRefund      ImpactType = "REFUND"
	ImpactAggregation ImpactType = "AGGREGATION"
)

// BalanceImpact is an immutable audit record of one counter movement.
type BalanceImpact struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	RecordID      snowflake.ID `gorm:"not null;index"`
	TransactionID int64        `gorm:"not null;index"`
	Type          ImpactType   `gorm:"type:text;not null"`
	BalanceGroup  int64        `gorm:"not null;index:idx_balance_impacts_counter"`
	CounterID     int64        `gorm:"not null;index:idx_balance_impacts_counter"`
	UsageUsed     float64      `gorm:"type:numeric;not null"`
	UsageLeft     float64      `gorm:"type:numeric;not null"`
	BalanceBefore float64      `gorm:"type:numeric;not null"`
	BalanceAfter  float64      `gorm:"type:numeric;not null"`
	Delta         float64      `gorm:"type:numeric;not null"`
	RuleName      string       `gorm:"type:text;not null"`
	ValidFrom     time.Time    `gorm:"not null"`
	ValidTo       time.Time    `gorm:""`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (BalanceImpact) TableName() string { return "balance_impacts" }

// RatedEvent is the durable output row flushed at transaction commit.
type RatedEvent struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	TransactionID int64             `gorm:"not null;index"`
	Account       string            `gorm:"type:text;not null;index"`
	EventStart    time.Time         `gorm:"not null"`
	EventEnd      time.Time         `gorm:"not null"`
	ChargedValue  float64           `gorm:"type:numeric;not null"`
	Metrics       datatypes.JSONMap `gorm:"type:jsonb"`
	Attributes    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RatedEvent) TableName() string { return "rated_events" }
