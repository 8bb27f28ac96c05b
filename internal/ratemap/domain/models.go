// Package domain contains the rate-map price model types.
package domain

import (
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Mode selects the rating algorithm applied to a price model.
type Mode string

const (
	ModeFlat      Mode = "FLAT"
	ModeTiered    Mode = "TIERED"
	ModeThreshold Mode = "THRESHOLD"
	ModeEvent     Mode = "EVENT"
)

// RateMapEntry is one persisted tier version of a price model. Several rows
// may share the same quantity band with disjoint validity windows.
type RateMapEntry struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	PriceModel string       `gorm:"type:text;not null;index:idx_rate_map_entries_model"`
	Step       int          `gorm:"not null"`
	FromValue  float64      `gorm:"type:numeric;not null"`
	ToValue    *float64     `gorm:"type:numeric"`
	Beat       float64      `gorm:"type:numeric;not null"`
	Factor     float64      `gorm:"type:numeric;not null"`
	ChargeBase float64      `gorm:"type:numeric;not null"`
	ValidFrom  time.Time    `gorm:"not null"`
	ValidTo    *time.Time   `gorm:""`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (RateMapEntry) TableName() string { return "rate_map_entries" }

// Version is one validity window of a tier.
type Version struct {
	Beat       float64
	Factor     float64
	ChargeBase float64
	ValidFrom  time.Time
	ValidTo    time.Time // zero value means open-ended
}

// Covers reports whether the version is applicable at the given instant.
func (v Version) Covers(at time.Time) bool {
	if at.Before(v.ValidFrom) {
		return false
	}
	if v.ValidTo.IsZero() {
		return true
	}
	return at.Before(v.ValidTo)
}

// Tier is one quantity band of a price model with its time-ordered versions.
// To is +Inf for an open-ended band; From == To marks a singularity tier that
// always charges exactly one beat.
type Tier struct {
	From     float64
	To       float64
	Versions []Version // sorted by ValidFrom ascending
}

// VersionAt resolves the validity window covering at. Windows never overlap
// for the same band, so the latest window starting at or before the instant
// is the only candidate.
func (t Tier) VersionAt(at time.Time) (Version, bool) {
	idx := sort.Search(len(t.Versions), func(i int) bool {
		return t.Versions[i].ValidFrom.After(at)
	})
	if idx == 0 {
		return Version{}, false
	}
	candidate := t.Versions[idx-1]
	if !candidate.Covers(at) {
		return Version{}, false
	}
	return candidate, true
}

// Singularity reports whether the tier charges one beat regardless of quantity.
func (t Tier) Singularity() bool { return t.From == t.To }

// Step is one line of an auditable rating breakdown.
type Step struct {
	TierFrom    float64   `json:"tier_from"`
	TierTo      float64   `json:"tier_to"`
	Beat        float64   `json:"beat"`
	BeatCount   float64   `json:"beat_count"`
	Factor      float64   `json:"factor"`
	ChargeBase  float64   `json:"charge_base"`
	RatedAmount float64   `json:"rated_amount"`
	UsageUsed   float64   `json:"usage_used"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidTo     time.Time `json:"valid_to,omitempty"`
}

// Result is the outcome of evaluating a usage quantity against a price model.
type Result struct {
	RatedValue float64
	UsageUsed  float64
	Breakdown  []Step
}
