package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/scalar"
	"github.com/JakeFAU/tbprogress/internal/store"
)

// StoreSink persists mirrored records via a store.ScalarRepository. Each
// batch becomes one AppendScalars call.
type StoreSink struct {
	repo   store.ScalarRepository
	logger *zap.Logger

	mu   sync.Mutex
	seen map[uuid.UUID]struct{}
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.ScalarRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, seen: make(map[uuid.UUID]struct{})}
}

// Consume makes sure every run in the batch has a row, then appends the
// points. It respects ctx deadlines and wraps repository errors.
func (s *StoreSink) Consume(ctx context.Context, batch []scalar.Record) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	points := make([]store.Point, 0, len(batch))
	for _, rec := range batch {
		if err := s.ensureRun(ctx, rec); err != nil {
			return err
		}
		points = append(points, store.Point{
			RunID:    rec.Run,
			Name:     rec.Name,
			Value:    rec.Value,
			Step:     rec.Step,
			WallTime: rec.WallTime,
		})
	}
	if err := s.repo.AppendScalars(ctx, points); err != nil {
		return fmt.Errorf("append scalars: %w", err)
	}
	return nil
}

// ensureRun inserts a placeholder run the first time a run ID shows up. Runs
// registered earlier with a real name keep it.
func (s *StoreSink) ensureRun(ctx context.Context, rec scalar.Record) error {
	s.mu.Lock()
	_, ok := s.seen[rec.Run]
	s.mu.Unlock()
	if ok {
		return nil
	}
	run := store.Run{
		ID:        rec.Run,
		Name:      rec.Run.String(),
		StartedAt: rec.WallTime,
		Status:    store.RunOpen,
	}
	if err := s.repo.UpsertRunStart(ctx, run); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	s.mu.Lock()
	s.seen[rec.Run] = struct{}{}
	s.mu.Unlock()
	s.logger.Debug("scalar run registered", zap.Stringer("run", rec.Run))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
