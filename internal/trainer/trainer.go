package trainer

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"go.uber.org/zap"
)

// Config sizes the training run.
type Config struct {
	MinibatchSize int
	Minibatches   int
	InputDim      int
	Classes       int
	LearningRate  float64
	TestSize      int
	Seed          int64
	// LogEvery logs loss and error every LogEvery minibatches; 0 disables.
	LogEvery int
}

// Validate reports unusable sizes.
func (c Config) Validate() error {
	switch {
	case c.MinibatchSize <= 0:
		return errors.New("minibatch size must be > 0")
	case c.Minibatches < 0:
		return errors.New("minibatch count must be >= 0")
	case c.InputDim <= 0:
		return errors.New("input dim must be > 0")
	case c.Classes < 2:
		return errors.New("classes must be >= 2")
	case c.LearningRate <= 0:
		return errors.New("learning rate must be > 0")
	}
	return nil
}

// MinibatchHook runs after every trained minibatch.
type MinibatchHook func(ctx context.Context, minibatch int) error

// Result summarizes a finished run.
type Result struct {
	Minibatches   int
	TotalUpdates  uint64
	LastLoss      float64
	LastError     float64
	TestSamples   int
	Misclassified int
}

// Trainer runs minibatch SGD on synthetic data and reports progress.
type Trainer struct {
	cfg      Config
	model    *LogReg
	rng      *rand.Rand
	reporter *Reporter
	logger   *zap.Logger
	hooks    []MinibatchHook
}

// New builds a Trainer that reports through reporter.
func New(cfg Config, reporter *Reporter, logger *zap.Logger, hooks ...MinibatchHook) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("trainer config: %w", err)
	}
	if reporter == nil {
		reporter = NewReporter(1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{
		cfg:      cfg,
		model:    NewLogReg(cfg.InputDim, cfg.Classes),
		rng:      rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // synthetic data only
		reporter: reporter,
		logger:   logger,
		hooks:    hooks,
	}, nil
}

// Model exposes the trained parameters.
func (t *Trainer) Model() *LogReg {
	return t.model
}

// Run trains cfg.Minibatches minibatches, writes a training summary, then
// evaluates on cfg.TestSize fresh samples. It stops early when ctx is done
// or a hook fails.
func (t *Trainer) Run(ctx context.Context) (Result, error) {
	var res Result
	for i := 0; i < t.cfg.Minibatches; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch := Generate(t.rng, t.cfg.MinibatchSize, t.cfg.InputDim, t.cfg.Classes)
		loss, errs := t.model.Step(batch, t.cfg.LearningRate)
		t.reporter.UpdateTraining(uint64(batch.Len()), loss, errs)
		res.Minibatches++
		res.LastLoss = loss / float64(batch.Len())
		res.LastError = errs / float64(batch.Len())

		if t.cfg.LogEvery > 0 && i%t.cfg.LogEvery == 0 {
			t.logger.Info("minibatch",
				zap.Int("minibatch", i),
				zap.Float64("cross_entropy", res.LastLoss),
				zap.Float64("classification_error", res.LastError),
			)
		}
		for _, h := range t.hooks {
			if err := h(ctx, i); err != nil {
				return res, fmt.Errorf("minibatch %d hook: %w", i, err)
			}
		}
	}
	t.reporter.WriteTrainingSummary()
	res.TotalUpdates = t.reporter.TotalUpdates()

	if t.cfg.TestSize > 0 {
		res.TestSamples = t.cfg.TestSize
		res.Misclassified = t.Evaluate(t.cfg.TestSize)
		t.logger.Info("validating model",
			zap.Int("samples", res.TestSamples),
			zap.Int("misclassified", res.Misclassified),
		)
	}
	return res, nil
}

// Evaluate scores n fresh samples, reports them as one test update plus a
// test summary, and returns the misclassified count.
func (t *Trainer) Evaluate(n int) int {
	batch := Generate(t.rng, n, t.cfg.InputDim, t.cfg.Classes)
	predicted := t.model.Predict(batch.Features)
	miss := 0
	for i, p := range predicted {
		if p != batch.Labels[i] {
			miss++
		}
	}
	t.reporter.UpdateTest(uint64(n), float64(miss))
	t.reporter.WriteTestSummary()
	return miss
}
