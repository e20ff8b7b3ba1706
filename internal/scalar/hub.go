package scalar

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/policy/ratelimit"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 4096).
//   - MaxBatchRecords: flush once this many records queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 1s).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	MaxBatchRecords int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 4096
	defaultMaxBatchRecords = 256
	defaultMaxBatchWait    = time.Second
	defaultSinkTimeout     = 10 * time.Second
	dropLogInterval        = 5 * time.Second
)

// Stats is a snapshot of Hub counters.
type Stats struct {
	Emitted   int64
	Dropped   int64
	Forwarded int64
	SinkFails int64
}

// Hub batches records and fans them out to registered sinks. Emit is safe
// for concurrent use and never blocks the training loop.
type Hub struct {
	cfg         Config
	sinks       []Sink
	records     chan Record
	stopCh      chan struct{}
	doneCh      chan struct{}
	logger      *zap.Logger
	dropLimiter *ratelimit.Limiter

	// mu orders Emit's send against Close so drain sees every accepted record.
	mu     sync.RWMutex
	closed bool

	emitted       atomic.Int64
	dropped       atomic.Int64
	droppedUnseen atomic.Int64
	forwarded     atomic.Int64
	sinkFails     atomic.Int64

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the background batching goroutine for sinks. The returned
// Hub is immediately ready to accept records.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchRecords <= 0 {
		cfg.MaxBatchRecords = defaultMaxBatchRecords
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		records:     make(chan Record, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		logger:      logger,
		dropLimiter: ratelimit.New(ratelimit.Config{Every: dropLogInterval}),
	}
	go h.run()
	return h
}

// Emit enqueues a Record for batching. When the buffer is full the record is
// dropped and a rate-limited warning is logged.
func (h *Hub) Emit(rec Record) {
	if h == nil {
		return
	}
	if err := rec.Validate(); err != nil {
		h.logger.Debug("discarding invalid scalar record", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.records <- rec:
		h.emitted.Add(1)
	default:
		h.dropped.Add(1)
		h.droppedUnseen.Add(1)
		if h.dropLimiter.Allow(rec.Run.String()) {
			h.logger.Warn("scalar records dropped due to backpressure",
				zap.Int64("dropped", h.droppedUnseen.Swap(0)),
				zap.Stringer("run", rec.Run),
				zap.String("last_name", rec.Name),
			)
		}
	}
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Emitted:   h.emitted.Load(),
		Dropped:   h.dropped.Load(),
		Forwarded: h.forwarded.Load(),
		SinkFails: h.sinkFails.Load(),
	}
}

// Close drains remaining records, flushes and closes sinks, and blocks until
// the background goroutine exits. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scalar hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Record, 0, h.cfg.MaxBatchRecords)
	timer := newBatchTimer(h.cfg.MaxBatchWait)
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatchRecords {
				batch = h.flush(batch)
				timer.stop()
			} else {
				timer.arm()
			}
		case <-timer.C():
			timer.fired()
			batch = h.flush(batch)
		case <-h.stopCh:
			timer.stop()
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Record) {
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatchRecords {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch emptied for reuse.
func (h *Hub) flush(batch []Record) []Record {
	if len(batch) == 0 {
		return batch
	}
	out := append([]Record(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.sinkFails.Add(1)
			h.logger.Warn("scalar sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("batch", len(out)),
				zap.Error(err),
			)
		}
		cancel()
	}
	h.forwarded.Add(int64(len(out)))
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("scalar sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batchTimer wraps time.Timer with the stop-and-drain bookkeeping needed to
// re-arm it safely from the run loop.
type batchTimer struct {
	t      *time.Timer
	wait   time.Duration
	active bool
}

func newBatchTimer(wait time.Duration) *batchTimer {
	t := time.NewTimer(wait)
	t.Stop()
	return &batchTimer{t: t, wait: wait}
}

func (b *batchTimer) C() <-chan time.Time {
	return b.t.C
}

// arm starts the timer unless it is already running, so a steady stream of
// records cannot postpone a flush forever.
func (b *batchTimer) arm() {
	if b.active {
		return
	}
	b.t.Reset(b.wait)
	b.active = true
}

func (b *batchTimer) fired() {
	b.active = false
}

func (b *batchTimer) stop() {
	if !b.active {
		return
	}
	if !b.t.Stop() {
		select {
		case <-b.t.C:
		default:
		}
	}
	b.active = false
}
