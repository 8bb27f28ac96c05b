package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/quentel/ratecore/internal/cache"
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"gorm.io/gorm"
)

const defaultModelTTL = 10 * time.Minute

// An event can span at most this many zone boundaries before resolution is
// treated as a model misconfiguration.
const maxSegmentsPerEvent = 1000

// ModelRepository resolves time models from persisted interval rows.
type ModelRepository struct {
	db     *gorm.DB
	models cache.Cache[string, []timemodeldomain.TimeModelInterval]
	ttl    time.Duration
}

func NewModelRepository(db *gorm.DB) *ModelRepository {
	return &ModelRepository{
		db:     db,
		models: cache.NewTTLCache[string, []timemodeldomain.TimeModelInterval](),
		ttl:    defaultModelTTL,
	}
}

func (r *ModelRepository) intervals(ctx context.Context, model string) ([]timemodeldomain.TimeModelInterval, error) {
	if rows, ok := r.models.Get(model); ok {
		return rows, nil
	}

	var rows []timemodeldomain.TimeModelInterval
	err := r.db.WithContext(ctx).
		Where("model = ?", model).
		Order("day_from ASC, minute_from ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	r.models.Set(model, rows, r.ttl)
	return rows, nil
}

// ZoneAt resolves the zone covering one instant.
func (r *ModelRepository) ZoneAt(ctx context.Context, model string, at time.Time) (timemodeldomain.Segment, error) {
	rows, err := r.intervals(ctx, model)
	if err != nil {
		return timemodeldomain.Segment{}, err
	}

	interval, ok := match(rows, at)
	if !ok {
		return timemodeldomain.Segment{}, fmt.Errorf("model %q at %s: %w",
			model, at.Format(time.RFC3339), timemodeldomain.ErrZoneOrTimeNotFound)
	}
	return timemodeldomain.Segment{
		Zone:       interval.Zone,
		PriceGroup: interval.PriceGroup,
		Start:      at,
		End:        at,
	}, nil
}

// Segments partitions [start, end) into consecutive zone spans, merging
// adjacent spans that resolve to the same zone.
func (r *ModelRepository) Segments(ctx context.Context, model string, start, end time.Time) ([]timemodeldomain.Segment, error) {
	if !end.After(start) {
		single, err := r.ZoneAt(ctx, model, start)
		if err != nil {
			return nil, err
		}
		single.End = end
		return []timemodeldomain.Segment{single}, nil
	}

	rows, err := r.intervals(ctx, model)
	if err != nil {
		return nil, err
	}

	var segments []timemodeldomain.Segment
	cursor := start
	for i := 0; cursor.Before(end); i++ {
		if i >= maxSegmentsPerEvent {
			return nil, fmt.Errorf("model %q: event spans too many zone boundaries: %w",
				model, timemodeldomain.ErrZoneOrTimeNotFound)
		}

		interval, ok := match(rows, cursor)
		if !ok {
			return nil, fmt.Errorf("model %q at %s: %w",
				model, cursor.Format(time.RFC3339), timemodeldomain.ErrZoneOrTimeNotFound)
		}

		boundary := bandEnd(cursor, interval)
		if boundary.After(end) {
			boundary = end
		}

		if n := len(segments); n > 0 && segments[n-1].Zone == interval.Zone {
			segments[n-1].End = boundary
		} else {
			segments = append(segments, timemodeldomain.Segment{
				Zone:       interval.Zone,
				PriceGroup: interval.PriceGroup,
				Start:      cursor,
				End:        boundary,
			})
		}
		cursor = boundary
	}

	return segments, nil
}

func match(rows []timemodeldomain.TimeModelInterval, at time.Time) (timemodeldomain.TimeModelInterval, bool) {
	day := int(at.Weekday())
	minute := at.Hour()*60 + at.Minute()
	for _, row := range rows {
		if day < row.DayFrom || day > row.DayTo {
			continue
		}
		if minute < row.MinuteFrom || minute >= row.MinuteTo {
			continue
		}
		return row, true
	}
	return timemodeldomain.TimeModelInterval{}, false
}

// bandEnd returns the instant the matched minute band stops covering the
// cursor's day.
func bandEnd(cursor time.Time, interval timemodeldomain.TimeModelInterval) time.Time {
	midnight := time.Date(cursor.Year(), cursor.Month(), cursor.Day(), 0, 0, 0, 0, cursor.Location())
	return midnight.Add(time.Duration(interval.MinuteTo) * time.Minute)
}
