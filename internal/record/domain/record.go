package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ErrorKind classifies a per-record rating fault.
type ErrorKind string

const (
	ErrKindPriceModelUndefined ErrorKind = "price_model_undefined"
	ErrKindValidityNotCovered  ErrorKind = "validity_not_covered"
	ErrKindPriceGroupNotFound  ErrorKind = "price_group_not_found"
	ErrKindPriceGroupMapEmpty  ErrorKind = "price_group_map_not_found"
	ErrKindNotARatingRecord    ErrorKind = "not_a_rating_record"
	ErrKindResourceNotSet      ErrorKind = "resource_not_set"
	ErrKindZoneOrTimeNotFound  ErrorKind = "zone_or_time_not_found"
)

// RecordError is a typed fault attached to a record without aborting the
// batch.
type RecordError struct {
	Kind   ErrorKind
	Module string
	Detail string
}

// RatingRecord carries one usage event through the pipeline.
type RatingRecord struct {
	ID            snowflake.ID
	TransactionID int64
	Kind          Kind
	Account       string
	EventStart    time.Time
	EventEnd      time.Time

	Metrics       map[string]float64
	ChargePackets []*ChargePacket
	Impacts       []BalanceImpact
	Errors        []RecordError
	Attributes    datatypes.JSONMap
}

// NewRatingRecord builds a usage record with an initialized metric map.
func NewRatingRecord(id snowflake.ID, account string, start, end time.Time) *RatingRecord {
	return &RatingRecord{
		ID:         id,
		Kind:       KindUsage,
		Account:    account,
		EventStart: start,
		EventEnd:   end,
		Metrics:    make(map[string]float64),
	}
}

// Rateable reports whether metric-aware operations may touch the record.
func (r *RatingRecord) Rateable() bool { return r.Kind == KindUsage }

// MetricValue reads the named usage metric; absent metrics read as zero.
func (r *RatingRecord) MetricValue(name string) float64 {
	return r.Metrics[name]
}

// SetMetricValue overwrites the named usage metric.
func (r *RatingRecord) SetMetricValue(name string, value float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[name] = value
}

// UpdateMetricValue adjusts the named usage metric by delta.
func (r *RatingRecord) UpdateMetricValue(name string, delta float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[name] += delta
}

// AddBalanceImpact attaches a counter movement audit entry.
func (r *RatingRecord) AddBalanceImpact(impact BalanceImpact) {
	impact.RecordID = r.ID
	impact.TransactionID = r.TransactionID
	r.Impacts = append(r.Impacts, impact)
}

// AddError attaches a typed fault. Zone/time faults are recorded once per
// record; repeats of the same class are dropped to avoid duplicate noise when
// several segments fail the same way.
func (r *RatingRecord) AddError(kind ErrorKind, module, detail string) {
	if kind == ErrKindZoneOrTimeNotFound {
		for _, existing := range r.Errors {
			if existing.Kind == kind {
				return
			}
		}
	}
	r.Errors = append(r.Errors, RecordError{Kind: kind, Module: module, Detail: detail})
}

// HasErrors reports whether any fault has been attached.
func (r *RatingRecord) HasErrors() bool { return len(r.Errors) > 0 }

// ReplaceChargePackets swaps the packet list in one step so a failed
// expansion never leaves the record partially mutated.
func (r *RatingRecord) ReplaceChargePackets(packets []*ChargePacket) {
	r.ChargePackets = packets
}

// ChargedValue sums the charge accumulated across all valid packets.
func (r *RatingRecord) ChargedValue() float64 {
	total := 0.0
	for _, packet := range r.ChargePackets {
		if packet.Valid {
			total += packet.ChargedValue
		}
	}
	return total
}
