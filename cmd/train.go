package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/handle"
	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/trainer"
)

// Curves written to the side writer every minibatch.
const (
	randomCurve1 = "random1"
	randomCurve2 = "random2"
)

type trainFlags struct {
	minibatches int
	seed        int64
	logDir      string
}

// newTrainCmd creates the 'train' subcommand, which trains a logistic
// regression on synthetic data and records its progress under
// <log_dir>/main, plus two random curves under <log_dir>/test.
func newTrainCmd() *cobra.Command {
	var flags trainFlags
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Run the sample training loop with progress logging",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTrain(cmd, flags)
		},
	}
	cmd.Flags().IntVar(&flags.minibatches, "minibatches", -1, "override train.minibatches")
	cmd.Flags().Int64Var(&flags.seed, "seed", 0, "override train.seed")
	cmd.Flags().StringVar(&flags.logDir, "log-dir", "", "override writer.log_dir")
	return cmd
}

func runTrain(cmd *cobra.Command, flags trainFlags) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	tc := cfg.Train
	if flags.minibatches >= 0 {
		tc.Minibatches = flags.minibatches
	}
	if cmd.Flags().Changed("seed") {
		tc.Seed = flags.seed
	}
	logDir := cfg.Writer.LogDir
	if flags.logDir != "" {
		logDir = flags.logDir
	}
	logger := appInstance.Logger().Named("train")
	reg := appInstance.Handles()
	ctx := cmd.Context()

	modelRef, err := reg.RegisterModel(model.LogisticRegression())
	if err != nil {
		return fmt.Errorf("register model: %w", err)
	}
	defer func() { err = errors.Join(err, reg.ReleaseModel(modelRef)) }()
	m, err := reg.Model(modelRef)
	if err != nil {
		return fmt.Errorf("resolve model: %w", err)
	}

	var list handle.List
	mainHandle, err := reg.InitVec(&list, filepath.Join(logDir, "main"), m)
	if err != nil {
		return fmt.Errorf("open progress writer: %w", err)
	}
	defer func() { err = errors.Join(err, reg.CloseAdapter(context.WithoutCancel(ctx), mainHandle)) }()
	adapter, err := reg.Adapter(mainHandle)
	if err != nil {
		return fmt.Errorf("resolve progress writer: %w", err)
	}

	testHandle, err := reg.OpenWriter(filepath.Join(logDir, "test"))
	if err != nil {
		return fmt.Errorf("open test writer: %w", err)
	}
	defer func() { err = errors.Join(err, reg.CloseWriter(testHandle)) }()

	rng := rand.New(rand.NewSource(tc.Seed + 1)) //nolint:gosec // demo curves
	writeRandom := func(_ context.Context, minibatch int) error {
		step := uint64(minibatch)
		if err := reg.WriteValue(testHandle, randomCurve1, rng.Float32(), step); err != nil {
			return err
		}
		if err := reg.WriteValue(testHandle, randomCurve2, rng.Float32(), step); err != nil {
			return err
		}
		return reg.Flush(testHandle)
	}

	t, err := trainer.New(trainer.Config{
		MinibatchSize: tc.MinibatchSize,
		Minibatches:   tc.Minibatches,
		InputDim:      tc.InputDim,
		Classes:       tc.Classes,
		LearningRate:  tc.LearningRate,
		TestSize:      tc.TestSize,
		Seed:          tc.Seed,
		LogEvery:      50,
	}, trainer.NewReporter(uint64(tc.ReportFrequency), adapter), logger, writeRandom)
	if err != nil {
		return err
	}

	res, err := t.Run(ctx)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if werr := adapter.Err(); werr != nil {
		logger.Warn("progress writes failed", zap.Int("count", adapter.WriteErrors()), zap.Error(werr))
	}
	counts.Fprintf(cmd.OutOrStdout(), "trained %d minibatches (%d updates); misclassified %d of %d test samples\n",
		res.Minibatches, res.TotalUpdates, res.Misclassified, res.TestSamples)
	fmt.Fprintf(cmd.OutOrStdout(), "event file: %s\n", adapter.Path())
	return nil
}
