package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/clock/system"
	iduuid "github.com/JakeFAU/tbprogress/internal/id/uuid"
	"github.com/JakeFAU/tbprogress/internal/metrics"
	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/scalar"
	"github.com/JakeFAU/tbprogress/internal/tfevents"
)

// Scalar names written by the Adapter.
const (
	MinibatchAvgLoss       = "minibatch/avg_loss"
	MinibatchAvgMetric     = "minibatch/avg_metric"
	MinibatchTestAvgMetric = "minibatch/test_avg_metric"
	SummaryAvgLoss         = "summary/avg_loss"
	SummaryAvgMetric       = "summary/avg_metric"
	SummaryTestAvgMetric   = "summary/test_avg_metric"
)

const testUpdateNotice = "progress writer does not support recording per-minibatch cross-validation results"

// Writer is the callback set a training loop drives.
type Writer interface {
	OnTrainingUpdate(samples, updates Range, loss, metric ValueRange)
	OnTestUpdate(samples, updates Range, metric ValueRange)
	OnTrainingSummary(samples, updates, summaries uint64, loss, metric float64, elapsed time.Duration)
	OnTestSummary(samples, updates, summaries uint64, metric float64, elapsed time.Duration)
}

// ScalarWriter is the sink an Adapter writes through. *tfevents.FileWriter
// implements it.
type ScalarWriter interface {
	WriteScalar(name string, value float32, step uint64) error
	Flush() error
	Close() error
}

// CloseHook runs after the sink has been released. path is empty when the
// sink has no backing file.
type CloseHook func(ctx context.Context, run uuid.UUID, path string) error

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithMetrics counts write errors and, for New, observes event file writes.
func WithMetrics(c *metrics.Collectors) Option {
	return func(a *Adapter) {
		a.metrics = c
	}
}

// WithMirror copies every successful write to e, tagged with the adapter's run.
func WithMirror(e scalar.Emitter) Option {
	return func(a *Adapter) {
		a.mirror = e
	}
}

// WithRun fixes the run ID instead of generating one.
func WithRun(id uuid.UUID) Option {
	return func(a *Adapter) {
		if id != uuid.Nil {
			a.run = id
		}
	}
}

// WithClock sets the clock used for mirrored wall times and, for New, the
// event file.
func WithClock(c tfevents.Clock) Option {
	return func(a *Adapter) {
		if c != nil {
			a.clock = c
		}
	}
}

// WithWriterOptions forwards options to tfevents.Open when the Adapter opens
// its own sink.
func WithWriterOptions(opts ...tfevents.Option) Option {
	return func(a *Adapter) {
		a.writerOpts = append(a.writerOpts, opts...)
	}
}

// WithCloseHook registers h to run during Close, after the sink is released.
func WithCloseHook(h CloseHook) Option {
	return func(a *Adapter) {
		if h != nil {
			a.closeHooks = append(a.closeHooks, h)
		}
	}
}

// Adapter implements Writer on top of a ScalarWriter.
type Adapter struct {
	sink       ScalarWriter
	logger     *zap.Logger
	metrics    *metrics.Collectors
	mirror     scalar.Emitter
	clock      tfevents.Clock
	run        uuid.UUID
	writerOpts []tfevents.Option
	closeHooks []CloseHook

	totalUpdates uint64
	firstErr     error
	writeErrs    int
	noticeLogged bool
	closedLogged bool
	closed       bool
}

var _ Writer = (*Adapter)(nil)

func newAdapter(opts []Option) *Adapter {
	a := &Adapter{
		logger: zap.NewNop(),
		clock:  system.New(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.run == uuid.Nil {
		a.run = iduuid.New().MustRunID()
	}
	return a
}

// New opens an event file in dir, bound to m when m is non-nil, and returns
// an Adapter that owns it. Callers must Close the Adapter, typically with
// defer right after New succeeds.
func New(dir string, m model.Model, opts ...Option) (*Adapter, error) {
	a := newAdapter(opts)
	wopts := []tfevents.Option{tfevents.WithClock(a.clock)}
	if m != nil {
		wopts = append(wopts, tfevents.WithModel(m))
	}
	if a.metrics != nil {
		wopts = append(wopts, tfevents.WithObserver(a.metrics))
	}
	wopts = append(wopts, a.writerOpts...)
	w, err := tfevents.Open(dir, wopts...)
	if err != nil {
		return nil, fmt.Errorf("open progress sink: %w", err)
	}
	a.sink = w
	a.logger = a.logger.With(zap.String("path", w.Path()), zap.Stringer("run", a.run))
	return a, nil
}

// NewWithWriter binds an Adapter to an existing sink. The Adapter takes
// ownership and closes w on Close.
func NewWithWriter(w ScalarWriter, opts ...Option) (*Adapter, error) {
	if w == nil {
		return nil, errors.New("scalar writer is required")
	}
	a := newAdapter(opts)
	a.sink = w
	a.logger = a.logger.With(zap.Stringer("run", a.run))
	return a, nil
}

// Run returns the run ID stamped on mirrored records.
func (a *Adapter) Run() uuid.UUID {
	return a.run
}

// Path returns the event file path, or "" when the sink is not file-backed.
func (a *Adapter) Path() string {
	if p, ok := a.sink.(interface{ Path() string }); ok {
		return p.Path()
	}
	return ""
}

// TotalUpdates returns the running count of training updates seen.
func (a *Adapter) TotalUpdates() uint64 {
	return a.totalUpdates
}

// Err returns the first write error, if any.
func (a *Adapter) Err() error {
	return a.firstErr
}

// WriteErrors returns how many writes failed.
func (a *Adapter) WriteErrors() int {
	return a.writeErrs
}

// OnTrainingUpdate adds the update delta to the running total, then writes
// the minibatch loss and metric averaged over the sample delta.
func (a *Adapter) OnTrainingUpdate(samples, updates Range, loss, metric ValueRange) {
	if a.rejectClosed() {
		return
	}
	a.totalUpdates += updates.Delta()
	a.write(MinibatchAvgLoss, Average(loss, samples), a.totalUpdates)
	a.write(MinibatchAvgMetric, Average(metric, samples), a.totalUpdates)
}

// OnTestUpdate records nothing. The first call logs a notice.
func (a *Adapter) OnTestUpdate(_, _ Range, _ ValueRange) {
	if !a.noticeLogged {
		a.noticeLogged = true
		a.logger.Info(testUpdateNotice)
		return
	}
	a.logger.Debug(testUpdateNotice)
}

// OnTrainingSummary writes the epoch loss and metric averaged over samples,
// stepped by the summary count.
func (a *Adapter) OnTrainingSummary(samples, _, summaries uint64, loss, metric float64, _ time.Duration) {
	if a.rejectClosed() {
		return
	}
	a.write(SummaryAvgLoss, AverageSum(loss, samples), summaries)
	a.write(SummaryAvgMetric, AverageSum(metric, samples), summaries)
}

// OnTestSummary writes the test metric averaged over samples. Once training
// has updated, the value lands on the minibatch axis so test and training
// curves share steps; before that it is stepped by the summary count.
func (a *Adapter) OnTestSummary(samples, _, summaries uint64, metric float64, _ time.Duration) {
	if a.rejectClosed() {
		return
	}
	avg := AverageSum(metric, samples)
	if a.totalUpdates != 0 {
		a.write(MinibatchTestAvgMetric, avg, a.totalUpdates)
		return
	}
	a.write(SummaryTestAvgMetric, avg, summaries)
}

// Flush pushes buffered records to the sink without releasing it.
func (a *Adapter) Flush() error {
	if a.closed {
		return tfevents.ErrClosed
	}
	if err := a.sink.Flush(); err != nil {
		return fmt.Errorf("flush progress sink: %w", err)
	}
	return nil
}

// Close flushes and releases the sink, then runs close hooks. Calling Close
// again is a no-op.
func (a *Adapter) Close(ctx context.Context) error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	if err := a.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close progress sink: %w", err))
	}
	path := a.Path()
	for _, h := range a.closeHooks {
		if err := h(ctx, a.run, path); err != nil {
			errs = append(errs, err)
		}
	}
	if a.writeErrs > 0 {
		a.logger.Warn("progress writer closed with failed writes", zap.Int("failed", a.writeErrs), zap.Error(a.firstErr))
	}
	a.logger.Debug("progress writer closed", zap.Uint64("total_updates", a.totalUpdates))
	return errors.Join(errs...)
}

// Closed reports whether Close has run.
func (a *Adapter) Closed() bool {
	return a.closed
}

func (a *Adapter) rejectClosed() bool {
	if !a.closed {
		return false
	}
	if !a.closedLogged {
		a.closedLogged = true
		a.logger.Warn("progress callback after close ignored")
	}
	return true
}

func (a *Adapter) write(name string, value float64, step uint64) {
	v := float32(value)
	if err := a.sink.WriteScalar(name, v, step); err != nil {
		a.writeErrs++
		if a.firstErr == nil {
			a.firstErr = fmt.Errorf("write %s: %w", name, err)
		}
		a.metrics.ObserveWriteError("progress")
		a.logger.Warn("scalar write failed", zap.String("name", name), zap.Uint64("step", step), zap.Error(err))
		return
	}
	if a.mirror != nil {
		a.mirror.Emit(scalar.Record{
			Run:      a.run,
			Name:     name,
			Value:    v,
			Step:     step,
			WallTime: a.clock.Now(),
		})
	}
}
