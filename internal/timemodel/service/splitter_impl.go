package service

import (
	"context"

	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Splitter partitions charge packets across billing time-zone boundaries.
type Splitter struct {
	log   *zap.Logger
	store timemodeldomain.ModelStore
}

type SplitterParam struct {
	fx.In

	Log   *zap.Logger
	Store timemodeldomain.ModelStore
}

func NewSplitter(p SplitterParam) *Splitter {
	return &Splitter{
		log:   p.Log.Named("timemodel.splitter"),
		store: p.Store,
	}
}

// Split resolves zones for every valid charge packet. NO_CHECK and HOLIDAY
// packets take the single zone at event start. CHECK_SPLITTING packets are
// physically split: one clone per zone segment beyond the first, chained to
// the seed so rating shares one rounding state, each clone carrying a
// duration-proportional splitting factor. The packet list is replaced in one
// step.
func (s *Splitter) Split(ctx context.Context, rec *recorddomain.RatingRecord) error {
	totalDuration := int64(rec.EventEnd.Sub(rec.EventStart).Seconds())
	if totalDuration < 0 {
		totalDuration = 0
	}

	result := make([]*recorddomain.ChargePacket, 0, len(rec.ChargePackets))

	for _, packet := range rec.ChargePackets {
		if !packet.Valid || len(packet.TimePackets) == 0 {
			result = append(result, packet)
			continue
		}

		if packet.Splitting != recorddomain.SplitCheck {
			if err := s.resolveSingleZone(ctx, rec, packet, totalDuration); err != nil {
				return err
			}
			result = append(result, packet)
			continue
		}

		clones, err := s.splitPacket(ctx, rec, packet, totalDuration)
		if err != nil {
			return err
		}
		result = append(result, clones...)
	}

	rec.ReplaceChargePackets(result)
	return nil
}

func (s *Splitter) resolveSingleZone(
	ctx context.Context,
	rec *recorddomain.RatingRecord,
	packet *recorddomain.ChargePacket,
	totalDuration int64,
) error {
	for i := range packet.TimePackets {
		tp := &packet.TimePackets[i]
		if tp.ZoneResult != "" {
			continue
		}
		segment, err := s.store.ZoneAt(ctx, tp.TimeModel, rec.EventStart)
		if err != nil {
			return err
		}
		tp.ZoneResult = segment.Zone
		if tp.PriceGroup == "" {
			tp.PriceGroup = segment.PriceGroup
		}
		tp.Duration = totalDuration
		tp.TotalDuration = totalDuration
		tp.SplittingFactor = 1
	}
	return nil
}

func (s *Splitter) splitPacket(
	ctx context.Context,
	rec *recorddomain.RatingRecord,
	packet *recorddomain.ChargePacket,
	totalDuration int64,
) ([]*recorddomain.ChargePacket, error) {
	seedTP := packet.TimePackets[0]

	segments, err := s.store.Segments(ctx, seedTP.TimeModel, rec.EventStart, rec.EventEnd)
	if err != nil {
		return nil, err
	}

	if len(segments) <= 1 {
		// No boundary crossed; nothing to split physically.
		packet.Splitting = recorddomain.SplitNone
		tp := &packet.TimePackets[0]
		if len(segments) == 1 {
			tp.ZoneResult = segments[0].Zone
			if tp.PriceGroup == "" {
				tp.PriceGroup = segments[0].PriceGroup
			}
		}
		tp.Duration = totalDuration
		tp.TotalDuration = totalDuration
		tp.SplittingFactor = 1
		return []*recorddomain.ChargePacket{packet}, nil
	}

	packets := make([]*recorddomain.ChargePacket, 0, len(segments))
	for i, segment := range segments {
		target := packet
		if i > 0 {
			target = packet.Clone()
			packet.Link(target)
		}

		tp := seedTP
		tp.ZoneResult = segment.Zone
		if tp.PriceGroup == "" {
			tp.PriceGroup = segment.PriceGroup
		}
		tp.Duration = segment.Duration()
		tp.TotalDuration = totalDuration
		if totalDuration > 0 {
			tp.SplittingFactor = float64(segment.Duration()) / float64(totalDuration)
		} else {
			tp.SplittingFactor = 0
		}
		target.TimePackets = []recorddomain.TimePacket{tp}
		packets = append(packets, target)
	}

	return packets, nil
}
