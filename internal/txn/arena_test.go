package txn

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	balancedomain "github.com/quentel/ratecore/internal/balance/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var arenaAt = time.Date(2026, time.March, 16, 10, 0, 0, 0, time.UTC)

func testArena() *Arena {
	return &Arena{
		log:    zap.NewNop(),
		shared: make(map[counterKey]*balancedomain.Counter),
		open:   make(map[int64]*Tx),
	}
}

func testNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return node
}

func seedShared(t *testing.T, a *Arena, balance float64) {
	t.Helper()
	a.shared[counterKey{group: 1, counter: 10}] = &balancedomain.Counter{
		ID:             testNode(t).Generate(),
		BalanceGroup:   1,
		CounterID:      10,
		CurrentBalance: balance,
		ValidFrom:      arenaAt.Add(-time.Hour),
	}
}

func TestOverlayIsolation(t *testing.T) {
	arena := testArena()
	seedShared(t, arena, 100)

	tx1 := arena.View(1)
	counter, ok := tx1.Find(1, 10, arenaAt)
	require.True(t, ok)
	counter.CurrentBalance = 40
	tx1.Save(counter)

	// A second open transaction still sees the committed balance.
	tx2 := arena.View(2)
	other, ok := tx2.Find(1, 10, arenaAt)
	require.True(t, ok)
	assert.InDelta(t, 100, other.CurrentBalance, 1e-9)

	// And the shared state itself is untouched until commit.
	balance, ok := arena.SharedBalance(1, 10)
	require.True(t, ok)
	assert.InDelta(t, 100, balance, 1e-9)
}

func TestCommitPublishesOverlay(t *testing.T) {
	arena := testArena()
	seedShared(t, arena, 100)

	tx := arena.View(1)
	counter, ok := tx.Find(1, 10, arenaAt)
	require.True(t, ok)
	counter.CurrentBalance = 40
	tx.Save(counter)

	require.NoError(t, arena.Commit(context.Background(), 1))

	balance, ok := arena.SharedBalance(1, 10)
	require.True(t, ok)
	assert.InDelta(t, 40, balance, 1e-9)
}

func TestCommitLastWins(t *testing.T) {
	arena := testArena()
	seedShared(t, arena, 100)

	tx1 := arena.View(1)
	c1, _ := tx1.Find(1, 10, arenaAt)
	c1.CurrentBalance = 70
	tx1.Save(c1)

	tx2 := arena.View(2)
	c2, _ := tx2.Find(1, 10, arenaAt)
	c2.CurrentBalance = 30
	tx2.Save(c2)

	require.NoError(t, arena.Commit(context.Background(), 1))
	require.NoError(t, arena.Commit(context.Background(), 2))

	balance, _ := arena.SharedBalance(1, 10)
	assert.InDelta(t, 30, balance, 1e-9)
}

func TestRollbackDiscardsOverlay(t *testing.T) {
	arena := testArena()
	seedShared(t, arena, 100)

	tx := arena.View(1)
	counter, _ := tx.Find(1, 10, arenaAt)
	counter.CurrentBalance = 0
	tx.Save(counter)

	arena.Rollback(1)
	require.NoError(t, arena.Commit(context.Background(), 1))

	balance, _ := arena.SharedBalance(1, 10)
	assert.InDelta(t, 100, balance, 1e-9)
}

func TestCloseReleasesTransaction(t *testing.T) {
	arena := testArena()

	tx := arena.View(1)
	tx.Save(&balancedomain.Counter{BalanceGroup: 1, CounterID: 10, CurrentBalance: 5, ValidFrom: arenaAt})
	arena.Close(1)

	fresh := arena.View(1)
	_, ok := fresh.Find(1, 10, arenaAt)
	assert.False(t, ok)
}

func TestFindRespectsValidityWindow(t *testing.T) {
	arena := testArena()
	arena.shared[counterKey{group: 1, counter: 10}] = &balancedomain.Counter{
		BalanceGroup:   1,
		CounterID:      10,
		CurrentBalance: 100,
		ValidFrom:      arenaAt.Add(-2 * time.Hour),
		ValidTo:        arenaAt.Add(-time.Hour),
	}

	_, ok := arena.View(1).Find(1, 10, arenaAt)
	assert.False(t, ok)
}

func TestCommitFlushesDurably(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&balancedomain.Counter{},
		&recorddomain.BalanceImpact{},
		&recorddomain.RatedEvent{},
	))

	arena := testArena()
	arena.db = db
	node := testNode(t)

	rec := recorddomain.NewRatingRecord(node.Generate(), "acct-1", arenaAt, arenaAt.Add(time.Minute))
	rec.TransactionID = 1
	rec.SetMetricValue("seconds", 60)
	rec.AddBalanceImpact(recorddomain.BalanceImpact{
		ID:           node.Generate(),
		Type:         recorddomain.ImpactConsume,
		BalanceGroup: 1,
		CounterID:    10,
		Delta:        -60,
		RuleName:     "free-minutes",
		ValidFrom:    arenaAt.Add(-time.Hour),
	})

	tx := arena.View(1)
	tx.Save(&balancedomain.Counter{
		ID:             node.Generate(),
		BalanceGroup:   1,
		CounterID:      10,
		CurrentBalance: 40,
		ValidFrom:      arenaAt.Add(-time.Hour),
	})
	arena.Attach(1, rec)

	require.NoError(t, arena.Commit(context.Background(), 1))

	var counters []balancedomain.Counter
	require.NoError(t, db.Find(&counters).Error)
	require.Len(t, counters, 1)
	assert.InDelta(t, 40, counters[0].CurrentBalance, 1e-9)

	var impacts []recorddomain.BalanceImpact
	require.NoError(t, db.Find(&impacts).Error)
	require.Len(t, impacts, 1)
	assert.Equal(t, rec.ID, impacts[0].RecordID)

	var events []recorddomain.RatedEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, "acct-1", events[0].Account)
}

func TestCommitUpsertsExistingCounter(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&balancedomain.Counter{},
		&recorddomain.BalanceImpact{},
		&recorddomain.RatedEvent{},
	))

	arena := testArena()
	arena.db = db
	node := testNode(t)

	counter := &balancedomain.Counter{
		ID:             node.Generate(),
		BalanceGroup:   1,
		CounterID:      10,
		CurrentBalance: 80,
		ValidFrom:      arenaAt.Add(-time.Hour),
	}

	tx1 := arena.View(1)
	tx1.Save(counter)
	require.NoError(t, arena.Commit(context.Background(), 1))

	tx2 := arena.View(2)
	found, ok := tx2.Find(1, 10, arenaAt)
	require.True(t, ok)
	found.CurrentBalance = 55
	tx2.Save(found)
	require.NoError(t, arena.Commit(context.Background(), 2))

	var counters []balancedomain.Counter
	require.NoError(t, db.Find(&counters).Error)
	require.Len(t, counters, 1)
	assert.InDelta(t, 55, counters[0].CurrentBalance, 1e-9)
}
