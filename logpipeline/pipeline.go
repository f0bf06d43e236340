// Package logpipeline buffers LogEntry records in a bounded in-memory queue
// and flushes them to durable storage on a background worker, so the
// request hot path never blocks on a database write.
package logpipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/cfxrouter/gateway/types"
)

// Writer persists a batch of log entries. Implementations should treat the
// write as all-or-nothing; Pipeline retries the whole batch on error.
type Writer interface {
	WriteBatch(ctx context.Context, entries []types.LogEntry) error
}

// Config controls queue capacity and flush behavior.
type Config struct {
	QueueCapacity int
	FlushInterval time.Duration
	BatchSize     int
	RetryAttempts int
	RetryBaseWait time.Duration
}

// DefaultConfig matches the gateway's documented defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity: 10_000,
		FlushInterval: 2 * time.Second,
		BatchSize:     200,
		RetryAttempts: 3,
		RetryBaseWait: 500 * time.Millisecond,
	}
}

// Pipeline is the bounded, non-blocking log queue plus its background
// flush worker.
type Pipeline struct {
	cfg    Config
	writer Writer
	logger *zap.Logger

	queue chan types.LogEntry

	enqueued atomic.Int64
	dropped  atomic.Int64
	flushed  atomic.Int64
	failed   atomic.Int64

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a Pipeline. Call Start to begin the background worker.
func New(cfg Config, writer Writer, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		writer: writer,
		logger: logger,
		queue:  make(chan types.LogEntry, cfg.QueueCapacity),
	}
}

// Enqueue offers entry to the queue without blocking. It returns false, and
// drops the entry, if the queue is full — the hot path must never stall on
// logging.
func (p *Pipeline) Enqueue(entry types.LogEntry) bool {
	select {
	case p.queue <- entry:
		p.enqueued.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("log queue full, dropping entry",
			zap.String("request_id", entry.RequestID),
			zap.Int64("total_dropped", p.dropped.Load()),
		)
		return false
	}
}

// Start launches the background flush worker. It is safe to call Start
// only once; a second call is a no-op.
func (p *Pipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(runCtx)
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.drain(context.Background())
			return
		case <-ticker.C:
			p.flushOnce(ctx)
		}
	}
}

// Stop drains the remaining queue and halts the worker. It is safe to call
// Stop without a prior Start: the queue is then drained on the caller's
// goroutine.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		p.drain(context.Background())
		return
	}
	cancel := p.cancel
	done := p.done
	p.running = false
	p.mu.Unlock()

	cancel()
	<-done
}

// drain repeatedly flushes batches until the queue is empty.
func (p *Pipeline) drain(ctx context.Context) {
	for len(p.queue) > 0 {
		p.flushOnce(ctx)
	}
}

// flushOnce drains up to BatchSize entries and writes them as one batch,
// retrying with linear backoff on failure.
func (p *Pipeline) flushOnce(ctx context.Context) {
	batch := p.collectBatch()
	if len(batch) == 0 {
		return
	}

	var lastErr error
	for attempt := 0; attempt <= p.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			wait := time.Duration(attempt) * p.cfg.RetryBaseWait
			select {
			case <-ctx.Done():
			case <-time.After(wait):
			}
		}

		if err := p.writer.WriteBatch(ctx, batch); err != nil {
			lastErr = err
			continue
		}
		p.flushed.Add(int64(len(batch)))
		return
	}

	p.failed.Add(int64(len(batch)))
	p.logger.Error("log batch write failed after retries, discarding batch",
		zap.Int("batch_size", len(batch)),
		zap.Int("retry_attempts", p.cfg.RetryAttempts),
		zap.Error(lastErr),
	)
}

func (p *Pipeline) collectBatch() []types.LogEntry {
	batch := make([]types.LogEntry, 0, p.cfg.BatchSize)
	for len(batch) < p.cfg.BatchSize {
		select {
		case entry := <-p.queue:
			batch = append(batch, entry)
		default:
			return batch
		}
	}
	return batch
}

// Stats is a point-in-time snapshot of pipeline counters. The gateway does
// not export it: there is no /health check or /metrics series built on it.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	Enqueued      int64
	Dropped       int64
	Flushed       int64
	Failed        int64
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		QueueDepth:    len(p.queue),
		QueueCapacity: cap(p.queue),
		Enqueued:      p.enqueued.Load(),
		Dropped:       p.dropped.Load(),
		Flushed:       p.flushed.Load(),
		Failed:        p.failed.Load(),
	}
}
