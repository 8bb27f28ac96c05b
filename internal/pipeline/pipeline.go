// Package pipeline runs rating batches through a bounded worker pool.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quentel/ratecore/internal/config"
	ratingdomain "github.com/quentel/ratecore/internal/rating/domain"
	recorddomain "github.com/quentel/ratecore/internal/record/domain"
	"github.com/quentel/ratecore/internal/txn"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Batch is one transaction's worth of usage records.
type Batch struct {
	TxID    int64
	Records []*recorddomain.RatingRecord
}

var ErrPipelineClosed = errors.New("pipeline closed")

const backpressurePoll = 5 * time.Millisecond

// Pipeline fans rating batches out to a fixed worker pool over a bounded
// queue. Producers pushing past the high-water mark block until workers
// drain, so a slow flush throttles ingestion instead of growing memory.
type Pipeline struct {
	log     *zap.Logger
	cfg     config.EngineConfig
	driver  ratingdomain.Driver
	arena   *txn.Arena
	metrics *Metrics

	queue chan Batch
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

type Param struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Driver ratingdomain.Driver
	Arena  *txn.Arena
}

func New(p Param) *Pipeline {
	cfg := p.Cfg.Engine
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 128
	}
	if cfg.QueueHighWater <= 0 || cfg.QueueHighWater > cfg.QueueCapacity {
		cfg.QueueHighWater = cfg.QueueCapacity
	}

	return &Pipeline{
		log:    p.Log.Named("pipeline"),
		cfg:    cfg,
		driver: p.Driver,
		arena:  p.Arena,
		metrics: SharedMetrics(MetricsConfig{
			ServiceName: p.Cfg.AppName,
			Environment: p.Cfg.Environment,
		}),
		queue: make(chan Batch, cfg.QueueCapacity),
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) error {
	p.log.Info("starting pipeline",
		zap.Int("workers", p.cfg.Workers),
		zap.Int("queue_capacity", p.cfg.QueueCapacity),
		zap.Int("queue_high_water", p.cfg.QueueHighWater),
	)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return nil
}

// Stop closes the queue and waits for in-flight batches to finish.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues a batch, blocking while the queue sits at or above the
// high-water mark. The enqueue under the lock never blocks, so a full queue
// cannot wedge the lock against Stop: if racing producers fill the queue
// after the high-water check, Submit falls back to the backpressure wait.
func (p *Pipeline) Submit(ctx context.Context, batch Batch) error {
	for {
		for len(p.queue) >= p.cfg.QueueHighWater {
			if p.isClosed() {
				return ErrPipelineClosed
			}
			p.metrics.IncBackpressureWait()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backpressurePoll):
			}
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrPipelineClosed
		}
		select {
		case p.queue <- batch:
			p.metrics.SetQueueDepth(len(p.queue))
			p.mu.Unlock()
			return nil
		default:
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backpressurePoll):
		}
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	log := p.log.With(zap.Int("worker", id))

	for batch := range p.queue {
		p.metrics.SetQueueDepth(len(p.queue))
		p.process(log, batch)
	}
}

// process rates one batch under its transaction. Any failure rolls the whole
// transaction back; counters committed by other transactions are untouched.
func (p *Pipeline) process(log *zap.Logger, batch Batch) {
	ctx := context.Background()
	started := time.Now()

	err := p.driver.RateBatch(ctx, batch.TxID, batch.Records)
	if err == nil {
		err = p.arena.Commit(ctx, batch.TxID)
	}

	if err != nil {
		p.arena.Rollback(batch.TxID)
		p.arena.Close(batch.TxID)
		p.metrics.IncBatch(BatchOutcomeRolledBack)
		log.Error("batch rolled back",
			zap.Int64("tx_id", batch.TxID),
			zap.Int("records", len(batch.Records)),
			zap.Error(err),
		)
		return
	}

	p.arena.Close(batch.TxID)
	p.metrics.IncBatch(BatchOutcomeCommitted)
	p.metrics.AddRecords(len(batch.Records))
	p.metrics.ObserveBatchDuration(time.Since(started).Seconds())
	log.Debug("batch committed",
		zap.Int64("tx_id", batch.TxID),
		zap.Int("records", len(batch.Records)),
		zap.Duration("took", time.Since(started)),
	)
}

func registerHooks(lc fx.Lifecycle, p *Pipeline) {
	lc.Append(fx.Hook{
		OnStart: p.Start,
		OnStop:  p.Stop,
	})
}

// Module wires the rating pipeline.
var Module = fx.Module("pipeline",
	fx.Provide(New),
	fx.Invoke(registerHooks),
)
