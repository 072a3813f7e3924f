package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/good-yellow-bee/lognexus/internal/logger"
	"github.com/good-yellow-bee/lognexus/internal/models"
)

// ErrBufferClosed is returned by Add once Close has begun.
var ErrBufferClosed = errors.New("log buffer closed")

var bufLog = logger.WithPrefix("buffer")

// LogBufferConfig sizes a LogBuffer. Zero values take defaults.
type LogBufferConfig struct {
	// BatchSize is both the flush trigger and the largest InsertBatch call.
	BatchSize     int
	FlushInterval time.Duration
	// MaxSize bounds the queue; the oldest entries go first.
	MaxSize      int
	FlushTimeout time.Duration
}

func (c LogBufferConfig) withDefaults() LogBufferConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 50000
	}
	c.MaxSize = max(c.MaxSize, c.BatchSize)
	if c.FlushTimeout <= 0 {
		c.FlushTimeout = 30 * time.Second
	}
	return c
}

// LogBuffer decouples ingestion from the LogRepository. Add only queues;
// a background loop writes batches when BatchSize entries are waiting or
// FlushInterval has passed. Entries of a failed write are requeued ahead
// of newer ones.
type LogBuffer struct {
	repo    LogRepository
	cfg     LogBufferConfig
	onFlush func(inserted int, err error)

	mu      sync.Mutex
	queue   []*models.LogEntry
	closed  bool
	flushMu sync.Mutex // one writer at a time keeps batches in order

	kick chan struct{}
	stop chan struct{}
	done chan struct{}

	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// NewLogBuffer starts the flush loop; Close stops it.
func NewLogBuffer(repo LogRepository, cfg LogBufferConfig) *LogBuffer {
	cfg = cfg.withDefaults()
	b := &LogBuffer{
		repo: repo,
		cfg:  cfg,
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go b.loop()
	return b
}

// OnFlush sets a callback run after each write attempt. Set it before the
// first Add.
func (b *LogBuffer) OnFlush(fn func(inserted int, err error)) {
	b.onFlush = fn
}

// Add queues entries and never waits for storage.
func (b *LogBuffer) Add(_ context.Context, entries ...*models.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBufferClosed
	}
	b.queue = append(b.queue, entries...)
	dropped := b.trimLocked()
	ready := len(b.queue) >= b.cfg.BatchSize
	b.mu.Unlock()

	if dropped > 0 {
		bufLog.Warnf("queue full, dropped %d oldest entries", dropped)
	}
	if ready {
		select {
		case b.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *LogBuffer) trimLocked() int {
	over := len(b.queue) - b.cfg.MaxSize
	if over <= 0 {
		return 0
	}
	clear(b.queue[:over])
	b.queue = b.queue[over:]
	b.dropped.Add(int64(over))
	return over
}

// Flush writes the queue in BatchSize chunks and stops at the first
// failure, leaving the rest queued.
func (b *LogBuffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	for {
		b.mu.Lock()
		n := min(len(b.queue), b.cfg.BatchSize)
		if n == 0 {
			b.mu.Unlock()
			return nil
		}
		batch := make([]*models.LogEntry, n)
		copy(batch, b.queue)
		b.queue = b.queue[n:]
		b.mu.Unlock()

		if err := b.write(ctx, batch); err != nil {
			b.mu.Lock()
			b.queue = append(batch, b.queue...)
			b.trimLocked()
			b.mu.Unlock()
			return err
		}
	}
}

func (b *LogBuffer) write(ctx context.Context, batch []*models.LogEntry) error {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.FlushTimeout)
	defer cancel()

	err := b.repo.InsertBatch(ctx, batch)
	inserted := 0
	if err == nil {
		inserted = len(batch)
		b.flushed.Add(1)
		b.inserted.Add(int64(inserted))
	}
	if b.onFlush != nil {
		b.onFlush(inserted, err)
	}
	return err
}

func (b *LogBuffer) loop() {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-b.kick:
		case <-b.stop:
			if err := b.Flush(context.Background()); err != nil {
				bufLog.Errorf("final flush, %d entries lost: %v", b.Stats().Pending, err)
			}
			return
		}
		if err := b.Flush(context.Background()); err != nil {
			bufLog.Errorf("flush: %v", err)
		}
	}
}

// Close refuses further entries, flushes what is queued and stops the
// loop. Calling it again is a no-op.
func (b *LogBuffer) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.stop)
	<-b.done
	return nil
}

// LogBufferStats is a point-in-time view of the buffer.
type LogBufferStats struct {
	Pending  int   `json:"pending"`
	Dropped  int64 `json:"dropped"`
	Flushed  int64 `json:"flushed"`
	Inserted int64 `json:"inserted"`
}

func (b *LogBuffer) Stats() LogBufferStats {
	b.mu.Lock()
	pending := len(b.queue)
	b.mu.Unlock()

	return LogBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}
