package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	timemodeldomain "github.com/quentel/ratecore/internal/timemodel/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type modelStoreStub struct {
	zone     timemodeldomain.Segment
	segments []timemodeldomain.Segment
	err      error
}

func (s *modelStoreStub) ZoneAt(ctx context.Context, model string, at time.Time) (timemodeldomain.Segment, error) {
	if s.err != nil {
		return timemodeldomain.Segment{}, s.err
	}
	return s.zone, nil
}

func (s *modelStoreStub) Segments(ctx context.Context, model string, start, end time.Time) ([]timemodeldomain.Segment, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.segments, nil
}

func testSplitter(store timemodeldomain.ModelStore) *Splitter {
	return &Splitter{log: zap.NewNop(), store: store}
}

func splitRecord(t *testing.T, splitting recorddomain.SplittingMode) *recorddomain.RatingRecord {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	start := time.Date(2026, time.March, 16, 7, 30, 0, 0, time.UTC)
	rec := recorddomain.NewRatingRecord(node.Generate(), "acct-1", start, start.Add(time.Hour))
	rec.ChargePackets = []*recorddomain.ChargePacket{{
		Valid:     true,
		Splitting: splitting,
		TimePackets: []recorddomain.TimePacket{{
			TimeModel: "business",
		}},
	}}
	return rec
}

func TestSplitNoCheckResolvesSingleZone(t *testing.T) {
	store := &modelStoreStub{zone: timemodeldomain.Segment{Zone: "OFFPEAK", PriceGroup: "pg-off"}}
	rec := splitRecord(t, recorddomain.SplitNone)

	require.NoError(t, testSplitter(store).Split(context.Background(), rec))

	require.Len(t, rec.ChargePackets, 1)
	tp := rec.ChargePackets[0].TimePackets[0]
	assert.Equal(t, "OFFPEAK", tp.ZoneResult)
	assert.Equal(t, "pg-off", tp.PriceGroup)
	assert.Equal(t, int64(3600), tp.Duration)
	assert.Equal(t, int64(3600), tp.TotalDuration)
	assert.InDelta(t, 1.0, tp.SplittingFactor, 1e-9)
}

func TestSplitNoCheckKeepsAssignedPriceGroup(t *testing.T) {
	store := &modelStoreStub{zone: timemodeldomain.Segment{Zone: "OFFPEAK", PriceGroup: "pg-off"}}
	rec := splitRecord(t, recorddomain.SplitNone)
	rec.ChargePackets[0].TimePackets[0].PriceGroup = "pg-fixed"

	require.NoError(t, testSplitter(store).Split(context.Background(), rec))
	assert.Equal(t, "pg-fixed", rec.ChargePackets[0].TimePackets[0].PriceGroup)
}

func TestSplitCheckAcrossZoneBoundary(t *testing.T) {
	start := time.Date(2026, time.March, 16, 7, 30, 0, 0, time.UTC)
	boundary := start.Add(30 * time.Minute)
	store := &modelStoreStub{segments: []timemodeldomain.Segment{
		{Zone: "OFFPEAK", PriceGroup: "pg-off", Start: start, End: boundary},
		{Zone: "PEAK", PriceGroup: "pg-peak", Start: boundary, End: start.Add(time.Hour)},
	}}
	rec := splitRecord(t, recorddomain.SplitCheck)

	require.NoError(t, testSplitter(store).Split(context.Background(), rec))

	require.Len(t, rec.ChargePackets, 2)
	first, second := rec.ChargePackets[0], rec.ChargePackets[1]

	assert.Equal(t, "OFFPEAK", first.TimePackets[0].ZoneResult)
	assert.Equal(t, "PEAK", second.TimePackets[0].ZoneResult)
	assert.InDelta(t, 0.5, first.TimePackets[0].SplittingFactor, 1e-9)
	assert.InDelta(t, 0.5, second.TimePackets[0].SplittingFactor, 1e-9)

	// The clone is chained to the seed so rating shares rounding state.
	assert.Same(t, first, second.ChainRoot())

	total := first.TimePackets[0].Duration + second.TimePackets[0].Duration
	assert.Equal(t, int64(3600), total)
}

func TestSplitCheckSingleSegmentResetsMode(t *testing.T) {
	start := time.Date(2026, time.March, 16, 7, 30, 0, 0, time.UTC)
	store := &modelStoreStub{segments: []timemodeldomain.Segment{
		{Zone: "PEAK", PriceGroup: "pg-peak", Start: start, End: start.Add(time.Hour)},
	}}
	rec := splitRecord(t, recorddomain.SplitCheck)

	require.NoError(t, testSplitter(store).Split(context.Background(), rec))

	require.Len(t, rec.ChargePackets, 1)
	packet := rec.ChargePackets[0]
	assert.Equal(t, recorddomain.SplitNone, packet.Splitting)
	assert.Equal(t, "PEAK", packet.TimePackets[0].ZoneResult)
	assert.InDelta(t, 1.0, packet.TimePackets[0].SplittingFactor, 1e-9)
}

func TestSplitSkipsInvalidPackets(t *testing.T) {
	store := &modelStoreStub{err: timemodeldomain.ErrZoneOrTimeNotFound}
	rec := splitRecord(t, recorddomain.SplitNone)
	rec.ChargePackets[0].Valid = false

	// The store would fail, but invalid packets never reach it.
	require.NoError(t, testSplitter(store).Split(context.Background(), rec))
	assert.Empty(t, rec.ChargePackets[0].TimePackets[0].ZoneResult)
}

func TestSplitPropagatesZoneError(t *testing.T) {
	store := &modelStoreStub{err: timemodeldomain.ErrZoneOrTimeNotFound}
	rec := splitRecord(t, recorddomain.SplitCheck)

	err := testSplitter(store).Split(context.Background(), rec)
	assert.ErrorIs(t, err, timemodeldomain.ErrZoneOrTimeNotFound)
}
