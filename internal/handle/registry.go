package handle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/clock/system"
	iduuid "github.com/JakeFAU/tbprogress/internal/id/uuid"
	"github.com/JakeFAU/tbprogress/internal/metrics"
	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/progress"
	"github.com/JakeFAU/tbprogress/internal/scalar"
	"github.com/JakeFAU/tbprogress/internal/tfevents"
)

// Handle is an opaque reference handed across the boundary.
type Handle uint64

// ErrUnknownHandle is returned for handles that were never issued, were
// already closed, or refer to a different kind of resource.
var ErrUnknownHandle = errors.New("unknown handle")

// OpenHook runs after a writer or adapter is opened.
type OpenHook func(ctx context.Context, run uuid.UUID, dir, path string) error

// Config wires the registry's collaborators. Every field is optional.
type Config struct {
	Logger        *zap.Logger
	Metrics       *metrics.Collectors
	Mirror        scalar.Emitter
	Clock         tfevents.Clock
	WriterOptions []tfevents.Option
	OnOpen        OpenHook
	OnClose       progress.CloseHook
	// BaseContext is passed to hooks fired from context-free boundary calls.
	BaseContext context.Context
}

type kind int

const (
	kindWriter kind = iota + 1
	kindAdapter
	kindModel
)

type entry struct {
	kind    kind
	run     uuid.UUID
	writer  *tfevents.FileWriter
	adapter *progress.Adapter
	model   model.Model
}

// Registry owns every resource reachable through a Handle. The map is
// mutex-guarded; each resource still expects one caller at a time.
type Registry struct {
	cfg    Config
	logger *zap.Logger
	ids    *iduuid.Generator

	mu      sync.Mutex
	next    Handle
	entries map[Handle]*entry
}

// NewRegistry builds an empty Registry.
func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger.Named("handle"),
		ids:     iduuid.New(),
		entries: make(map[Handle]*entry),
	}
}

func (r *Registry) put(e *entry) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	r.entries[h] = e
	return h
}

func (r *Registry) get(h Handle, k kind) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok || e.kind != k {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	return e, nil
}

func (r *Registry) take(h Handle, k kind) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[h]
	if !ok || e.kind != k {
		return nil, fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	delete(r.entries, h)
	return e, nil
}

// Len reports how many handles are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// RegisterModel stores m and returns a handle callers pass to InitVec.
func (r *Registry) RegisterModel(m model.Model) (Handle, error) {
	if m == nil {
		return 0, errors.New("model is required")
	}
	if err := model.Validate(m); err != nil {
		return 0, fmt.Errorf("invalid model: %w", err)
	}
	return r.put(&entry{kind: kindModel, model: m}), nil
}

// Model resolves a model handle. Handle 0 resolves to no model.
func (r *Registry) Model(h Handle) (model.Model, error) {
	if h == 0 {
		return nil, nil
	}
	e, err := r.get(h, kindModel)
	if err != nil {
		return nil, err
	}
	return e.model, nil
}

// ReleaseModel forgets a model handle. Adapters already bound keep the model.
func (r *Registry) ReleaseModel(h Handle) error {
	_, err := r.take(h, kindModel)
	return err
}

// OpenWriter starts a new event file in directory name.
func (r *Registry) OpenWriter(name string) (Handle, error) {
	opts := append([]tfevents.Option{tfevents.WithClock(r.cfg.Clock)}, r.cfg.WriterOptions...)
	if r.cfg.Metrics != nil {
		opts = append(opts, tfevents.WithObserver(r.cfg.Metrics))
	}
	w, err := tfevents.Open(name, opts...)
	if err != nil {
		return 0, fmt.Errorf("open writer: %w", err)
	}
	run := r.ids.MustRunID()
	if err := r.fireOpen(run, name, w.Path()); err != nil {
		return 0, errors.Join(err, w.Close())
	}
	h := r.put(&entry{kind: kindWriter, run: run, writer: w})
	r.logger.Debug("writer opened", zap.Uint64("handle", uint64(h)), zap.String("path", w.Path()))
	return h, nil
}

// WriteValue forwards one scalar write to a writer handle.
func (r *Registry) WriteValue(h Handle, name string, value float32, step uint64) error {
	e, err := r.get(h, kindWriter)
	if err != nil {
		return err
	}
	if err := e.writer.WriteScalar(name, value, step); err != nil {
		r.cfg.Metrics.ObserveWriteError("handle")
		return fmt.Errorf("write %s: %w", name, err)
	}
	if r.cfg.Mirror != nil {
		r.cfg.Mirror.Emit(scalar.Record{
			Run:      e.run,
			Name:     name,
			Value:    value,
			Step:     step,
			WallTime: r.cfg.Clock.Now(),
		})
	}
	return nil
}

// Flush pushes buffered records of a writer or adapter handle to disk.
func (r *Registry) Flush(h Handle) error {
	r.mu.Lock()
	e, ok := r.entries[h]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
	switch e.kind {
	case kindWriter:
		return e.writer.Flush()
	case kindAdapter:
		return e.adapter.Flush()
	default:
		return fmt.Errorf("%w: %d", ErrUnknownHandle, h)
	}
}

// CloseWriter flushes and releases a writer handle, then forgets it.
func (r *Registry) CloseWriter(h Handle) error {
	e, err := r.take(h, kindWriter)
	if err != nil {
		return err
	}
	var errs []error
	if err := e.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if r.cfg.OnClose != nil {
		if err := r.cfg.OnClose(r.cfg.BaseContext, e.run, e.writer.Path()); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Debug("writer closed", zap.Uint64("handle", uint64(h)))
	return errors.Join(errs...)
}

// InitVec builds a progress adapter on dir bound to m, registers it and
// appends its handle to list.
func (r *Registry) InitVec(list *List, dir string, m model.Model) (Handle, error) {
	if list == nil {
		return 0, errors.New("handle list is required")
	}
	run := r.ids.MustRunID()
	opts := []progress.Option{
		progress.WithLogger(r.logger.Named("progress")),
		progress.WithMetrics(r.cfg.Metrics),
		progress.WithRun(run),
		progress.WithClock(r.cfg.Clock),
		progress.WithWriterOptions(r.cfg.WriterOptions...),
	}
	if r.cfg.Mirror != nil {
		opts = append(opts, progress.WithMirror(r.cfg.Mirror))
	}
	if r.cfg.OnClose != nil {
		opts = append(opts, progress.WithCloseHook(r.cfg.OnClose))
	}
	a, err := progress.New(dir, m, opts...)
	if err != nil {
		return 0, err
	}
	if err := r.fireOpen(run, dir, a.Path()); err != nil {
		return 0, errors.Join(err, a.Close(r.cfg.BaseContext))
	}
	h := r.put(&entry{kind: kindAdapter, run: run, adapter: a})
	list.Append(h)
	r.logger.Debug("progress adapter opened", zap.Uint64("handle", uint64(h)), zap.String("path", a.Path()))
	return h, nil
}

// Adapter resolves an adapter handle.
func (r *Registry) Adapter(h Handle) (*progress.Adapter, error) {
	e, err := r.get(h, kindAdapter)
	if err != nil {
		return nil, err
	}
	return e.adapter, nil
}

// TrainingUpdate forwards OnTrainingUpdate to an adapter handle.
func (r *Registry) TrainingUpdate(h Handle, samples, updates progress.Range, loss, metric progress.ValueRange) error {
	a, err := r.Adapter(h)
	if err != nil {
		return err
	}
	a.OnTrainingUpdate(samples, updates, loss, metric)
	return nil
}

// TestUpdate forwards OnTestUpdate to an adapter handle.
func (r *Registry) TestUpdate(h Handle, samples, updates progress.Range, metric progress.ValueRange) error {
	a, err := r.Adapter(h)
	if err != nil {
		return err
	}
	a.OnTestUpdate(samples, updates, metric)
	return nil
}

// TrainingSummary forwards OnTrainingSummary to an adapter handle.
func (r *Registry) TrainingSummary(h Handle, samples, updates, summaries uint64, loss, metric float64, elapsed time.Duration) error {
	a, err := r.Adapter(h)
	if err != nil {
		return err
	}
	a.OnTrainingSummary(samples, updates, summaries, loss, metric, elapsed)
	return nil
}

// TestSummary forwards OnTestSummary to an adapter handle.
func (r *Registry) TestSummary(h Handle, samples, updates, summaries uint64, metric float64, elapsed time.Duration) error {
	a, err := r.Adapter(h)
	if err != nil {
		return err
	}
	a.OnTestSummary(samples, updates, summaries, metric, elapsed)
	return nil
}

// CloseAdapter flushes and releases an adapter handle, then forgets it.
func (r *Registry) CloseAdapter(ctx context.Context, h Handle) error {
	e, err := r.take(h, kindAdapter)
	if err != nil {
		return err
	}
	return e.adapter.Close(ctx)
}

// CloseAll releases every open writer and adapter in handle order and drops
// model handles. It is meant for process teardown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	handles := make([]Handle, 0, len(r.entries))
	for h := range r.entries {
		handles = append(handles, h)
	}
	r.mu.Unlock()
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	var errs []error
	for _, h := range handles {
		r.mu.Lock()
		e, ok := r.entries[h]
		r.mu.Unlock()
		if !ok {
			continue
		}
		var err error
		switch e.kind {
		case kindWriter:
			err = r.CloseWriter(h)
		case kindAdapter:
			err = r.CloseAdapter(ctx, h)
		case kindModel:
			err = r.ReleaseModel(h)
		}
		if err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = append(errs, fmt.Errorf("close handle %d: %w", h, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) fireOpen(run uuid.UUID, dir, path string) error {
	if r.cfg.OnOpen == nil {
		return nil
	}
	if err := r.cfg.OnOpen(r.cfg.BaseContext, run, dir, path); err != nil {
		return fmt.Errorf("open hook: %w", err)
	}
	return nil
}
