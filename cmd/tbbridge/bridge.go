package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/app"
	"github.com/JakeFAU/tbprogress/internal/config"
	"github.com/JakeFAU/tbprogress/internal/handle"
	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/policy/ratelimit"
	"github.com/JakeFAU/tbprogress/internal/progress"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "TBPROGRESS_CONFIG"

// bridge translates boundary calls into registry calls. Failures never
// cross the boundary; they are logged and the call is dropped.
// failureLogEvery spaces repeated "call failed" warnings for one export.
const failureLogEvery = 5 * time.Second

type bridge struct {
	app      *app.App
	handles  *handle.Registry
	logger   *zap.Logger
	failures *ratelimit.Limiter
	closed   atomic.Bool
}

func newBridge(ctx context.Context, cfgPath string, logger *zap.Logger, opts ...app.Option) (*bridge, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	opts = append([]app.Option{app.WithLogger(logger)}, opts...)
	a, err := app.Build(ctx, cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return &bridge{
		app:      a,
		handles:  a.Handles(),
		logger:   logger.Named("bridge"),
		failures: ratelimit.New(ratelimit.Config{Every: failureLogEvery}),
	}, nil
}

// drop logs a failed call. Stale handles are expected at teardown and only
// logged at debug level.
func (b *bridge) drop(call string, h uint64, err error) {
	if errors.Is(err, handle.ErrUnknownHandle) {
		b.logger.Debug("call on unknown handle dropped", zap.String("call", call), zap.Uint64("handle", h))
		return
	}
	if !b.failures.Allow(call) {
		return
	}
	b.logger.Warn("call failed", zap.String("call", call), zap.Uint64("handle", h), zap.Error(err))
}

func (b *bridge) usable(call string) bool {
	if b == nil {
		return false
	}
	if b.closed.Load() {
		b.logger.Debug("call after shutdown dropped", zap.String("call", call))
		return false
	}
	return true
}

func (b *bridge) registerModel(name string) uint64 {
	if !b.usable("RegisterModel") {
		return 0
	}
	m, known := model.ByName(name)
	if !known {
		b.logger.Warn("unknown model registered without a graph", zap.String("model", name))
	}
	h, err := b.handles.RegisterModel(m)
	if err != nil {
		b.drop("RegisterModel", 0, err)
		return 0
	}
	return uint64(h)
}

func (b *bridge) releaseModel(h uint64) {
	if !b.usable("ReleaseModel") {
		return
	}
	if err := b.handles.ReleaseModel(handle.Handle(h)); err != nil {
		b.drop("ReleaseModel", h, err)
	}
}

// initVec opens an adapter on dir and hands its handle to push. When push
// fails the adapter is closed again so nothing leaks.
func (b *bridge) initVec(push func(uint64) error, dir string, modelRef uint64) {
	if !b.usable("InitVec") {
		return
	}
	m, err := b.handles.Model(handle.Handle(modelRef))
	if err != nil {
		b.drop("InitVec", modelRef, err)
		return
	}
	var list handle.List
	h, err := b.handles.InitVec(&list, dir, m)
	if err != nil {
		b.drop("InitVec", 0, err)
		return
	}
	if err := push(uint64(h)); err != nil {
		b.drop("InitVec", uint64(h), err)
		if cerr := b.handles.CloseAdapter(context.Background(), h); cerr != nil {
			b.drop("InitVec", uint64(h), cerr)
		}
	}
}

func (b *bridge) openWriter(name string) uint64 {
	if !b.usable("OpenWriter") {
		return 0
	}
	h, err := b.handles.OpenWriter(name)
	if err != nil {
		b.drop("OpenWriter", 0, err)
		return 0
	}
	return uint64(h)
}

func (b *bridge) writeValue(h uint64, name string, value float32, step int64) {
	if !b.usable("WriteValue") {
		return
	}
	if step < 0 {
		b.logger.Warn("negative step dropped", zap.String("name", name), zap.Int64("step", step))
		return
	}
	if err := b.handles.WriteValue(handle.Handle(h), name, value, uint64(step)); err != nil {
		b.drop("WriteValue", h, err)
	}
}

func (b *bridge) flush(h uint64) {
	if !b.usable("Flush") {
		return
	}
	if err := b.handles.Flush(handle.Handle(h)); err != nil {
		b.drop("Flush", h, err)
	}
}

func (b *bridge) closeWriter(h uint64) {
	if !b.usable("CloseWriter") {
		return
	}
	if err := b.handles.CloseWriter(handle.Handle(h)); err != nil {
		b.drop("CloseWriter", h, err)
	}
}

func (b *bridge) trainingUpdate(h uint64, samples, updates progress.Range, loss, metric progress.ValueRange) {
	if !b.usable("OnTrainingUpdate") {
		return
	}
	if err := b.handles.TrainingUpdate(handle.Handle(h), samples, updates, loss, metric); err != nil {
		b.drop("OnTrainingUpdate", h, err)
	}
}

func (b *bridge) testUpdate(h uint64, samples, updates progress.Range, metric progress.ValueRange) {
	if !b.usable("OnTestUpdate") {
		return
	}
	if err := b.handles.TestUpdate(handle.Handle(h), samples, updates, metric); err != nil {
		b.drop("OnTestUpdate", h, err)
	}
}

func (b *bridge) trainingSummary(h, samples, updates, summaries uint64, loss, metric float64, elapsed time.Duration) {
	if !b.usable("OnTrainingSummary") {
		return
	}
	if err := b.handles.TrainingSummary(handle.Handle(h), samples, updates, summaries, loss, metric, elapsed); err != nil {
		b.drop("OnTrainingSummary", h, err)
	}
}

func (b *bridge) testSummary(h, samples, updates, summaries uint64, metric float64, elapsed time.Duration) {
	if !b.usable("OnTestSummary") {
		return
	}
	if err := b.handles.TestSummary(handle.Handle(h), samples, updates, summaries, metric, elapsed); err != nil {
		b.drop("OnTestSummary", h, err)
	}
}

func (b *bridge) closeAdapter(h uint64) {
	if !b.usable("CloseProgressWriter") {
		return
	}
	if err := b.handles.CloseAdapter(context.Background(), handle.Handle(h)); err != nil {
		b.drop("CloseProgressWriter", h, err)
	}
}

// shutdown closes every open handle and the App. Later calls are no-ops.
func (b *bridge) shutdown(ctx context.Context) error {
	if b == nil || !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	return b.app.Close(ctx)
}
