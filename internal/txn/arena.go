// Package txn scopes counter mutations to overlaid pipeline transactions.
package txn

import (
	"context"
	"sync"
	"time"

	balancedomain "github.com/quentel/ratecore/internal/balance/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"github.com/quentel/ratecore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type counterKey struct {
	group   int64
	counter int64
}

// Arena tracks the shared counter state and one scratch overlay per open
// transaction. Consumption inside an open transaction only ever touches the
// overlay; two concurrently open transactions never observe each other's
// uncommitted deltas. Commit merges an overlay into the shared state
// (last-committed-wins on the merged value) and flushes durable output.
type Arena struct {
	log *zap.Logger
	db  *gorm.DB

	mu     sync.Mutex
	shared map[counterKey]*balancedomain.Counter
	open   map[int64]*Tx
}

type ArenaParam struct {
	fx.In

	Log *zap.Logger
	DB  *gorm.DB
}

func NewArena(p ArenaParam) *Arena {
	return &Arena{
		log:    p.Log.Named("txn.arena"),
		db:     p.DB,
		shared: make(map[counterKey]*balancedomain.Counter),
		open:   make(map[int64]*Tx),
	}
}

// Tx is one open transaction's scratch state.
type Tx struct {
	arena *Arena
	id    int64

	mu      sync.Mutex
	overlay map[counterKey]*balancedomain.Counter
	records []*recorddomain.RatingRecord
}

// Begin creates (or returns) the scratch state for a transaction id.
func (a *Arena) Begin(txID int64) *Tx {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tx, ok := a.open[txID]; ok {
		return tx
	}
	tx := &Tx{
		arena:   a,
		id:      txID,
		overlay: make(map[counterKey]*balancedomain.Counter),
	}
	a.open[txID] = tx
	return tx
}

// View returns the counter store scoped to the transaction.
func (a *Arena) View(txID int64) balancedomain.Store {
	return a.Begin(txID)
}

// Attach queues rated records for the transaction's commit flush.
func (a *Arena) Attach(txID int64, records ...*recorddomain.RatingRecord) {
	tx := a.Begin(txID)
	tx.mu.Lock()
	tx.records = append(tx.records, records...)
	tx.mu.Unlock()
}

// Find implements balancedomain.Store. A shared-state hit is copied into the
// overlay so engine mutations stay invisible until commit.
func (t *Tx) Find(balanceGroup, counterID int64, at time.Time) (*balancedomain.Counter, bool) {
	key := counterKey{group: balanceGroup, counter: counterID}

	t.mu.Lock()
	defer t.mu.Unlock()
	if counter, ok := t.overlay[key]; ok {
		if !counter.Covers(at) {
			return nil, false
		}
		return counter, true
	}

	t.arena.mu.Lock()
	shared, ok := t.arena.shared[key]
	t.arena.mu.Unlock()
	if !ok || !shared.Covers(at) {
		return nil, false
	}

	scratch := *shared
	t.overlay[key] = &scratch
	return &scratch, true
}

// Save implements balancedomain.Store.
func (t *Tx) Save(counter *balancedomain.Counter) {
	key := counterKey{group: counter.BalanceGroup, counter: counter.CounterID}
	t.mu.Lock()
	t.overlay[key] = counter
	t.mu.Unlock()
}

// Commit merges the transaction's deltas into the shared state and flushes
// counters, balance impacts and rated events durably.
func (a *Arena) Commit(ctx context.Context, txID int64) error {
	a.mu.Lock()
	tx, ok := a.open[txID]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()

	if err := a.flush(ctx, tx); err != nil {
		return err
	}

	a.mu.Lock()
	for key, counter := range tx.overlay {
		merged := *counter
		a.shared[key] = &merged
	}
	a.mu.Unlock()

	a.log.Info("transaction committed",
		zap.Int64("tx_id", txID),
		zap.Int("counters", len(tx.overlay)),
		zap.Int("records", len(tx.records)),
	)

	tx.overlay = make(map[counterKey]*balancedomain.Counter)
	tx.records = nil
	return nil
}

// Rollback discards the transaction's deltas without perturbing other open
// transactions.
func (a *Arena) Rollback(txID int64) {
	a.mu.Lock()
	tx, ok := a.open[txID]
	a.mu.Unlock()
	if !ok {
		return
	}

	tx.mu.Lock()
	tx.overlay = make(map[counterKey]*balancedomain.Counter)
	tx.records = nil
	tx.mu.Unlock()

	a.log.Info("transaction rolled back", zap.Int64("tx_id", txID))
}

// Close releases the transaction's bookkeeping regardless of outcome.
func (a *Arena) Close(txID int64) {
	a.mu.Lock()
	delete(a.open, txID)
	a.mu.Unlock()
}

// SharedBalance reads a committed counter balance, mainly for inspection.
func (a *Arena) SharedBalance(balanceGroup, counterID int64) (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	counter, ok := a.shared[counterKey{group: balanceGroup, counter: counterID}]
	if !ok {
		return 0, false
	}
	return counter.CurrentBalance, true
}

func (a *Arena) flush(ctx context.Context, tx *Tx) error {
	if a.db == nil {
		return nil
	}

	return a.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		for _, counter := range tx.overlay {
			if err := upsertCounter(dbtx, counter); err != nil {
				return err
			}
		}

		for _, rec := range tx.records {
			if len(rec.Impacts) > 0 {
				if err := dbtx.Create(rec.Impacts).Error; err != nil {
					return err
				}
			}
			if err := dbtx.Create(ratedEvent(rec)).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertCounter updates the counter row in place, inserting it on first
// flush. A commit that loses the insert race to another process retries as an
// update.
func upsertCounter(dbtx *gorm.DB, counter *balancedomain.Counter) error {
	update := func() (int64, error) {
		result := dbtx.Model(&balancedomain.Counter{}).
			Where("balance_group = ? AND counter_id = ? AND valid_from = ?",
				counter.BalanceGroup, counter.CounterID, counter.ValidFrom).
			Updates(map[string]any{
				"current_balance": counter.CurrentBalance,
				"updated_at":      time.Now().UTC(),
			})
		return result.RowsAffected, result.Error
	}

	affected, err := update()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	if err := dbtx.Create(counter).Error; err != nil {
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		_, err = update()
		return err
	}
	return nil
}

func ratedEvent(rec *recorddomain.RatingRecord) *recorddomain.RatedEvent {
	metrics := make(datatypes.JSONMap, len(rec.Metrics))
	for name, value := range rec.Metrics {
		metrics[name] = value
	}
	return &recorddomain.RatedEvent{
		ID:            rec.ID,
		TransactionID: rec.TransactionID,
		Account:       rec.Account,
		EventStart:    rec.EventStart,
		EventEnd:      rec.EventEnd,
		ChargedValue:  rec.ChargedValue(),
		Metrics:       metrics,
		Attributes:    rec.Attributes,
	}
}

// Module wires the transaction arena.
var Module = fx.Module("txn",
	fx.Provide(NewArena),
)
