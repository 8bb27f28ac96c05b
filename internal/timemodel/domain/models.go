// Package domain contains billing time-model types.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// TimeModelInterval is one persisted band of a time model: a day-of-week and
// minute-of-day range resolving to a billing zone and its price group.
type TimeModelInterval struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Model      string       `gorm:"type:text;not null;index:idx_time_model_intervals_model"`
	DayFrom    int          `gorm:"not null"` // 0 = Sunday, matching time.Weekday
	DayTo      int          `gorm:"not null"`
	MinuteFrom int          `gorm:"not null"` // minutes since midnight, inclusive
	MinuteTo   int          `gorm:"not null"` // exclusive, max 1440
	Zone       string       `gorm:"type:text;not null"`
	PriceGroup string       `gorm:"type:text;not null"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (TimeModelInterval) TableName() string { return "time_model_intervals" }

// Segment is one resolved zone span of an event.
type Segment struct {
	Zone       string
	PriceGroup string
	Start      time.Time
	End        time.Time
}

// Duration returns the segment length in whole seconds.
func (s Segment) Duration() int64 {
	return int64(s.End.Sub(s.Start) / time.Second)
}

// ModelStore resolves time models against event instants.
type ModelStore interface {
	// ZoneAt resolves the zone covering one instant.
	ZoneAt(ctx context.Context, model string, at time.Time) (Segment, error)
	// Segments partitions [start, end) into consecutive zone spans.
	Segments(ctx context.Context, model string, start, end time.Time) ([]Segment, error)
}

var ErrZoneOrTimeNotFound = errors.New("zone_or_time_not_found")
