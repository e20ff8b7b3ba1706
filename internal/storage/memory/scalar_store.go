package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/tbprogress/internal/store"
)

type pointKey struct {
	run  uuid.UUID
	name string
	step uint64
}

// ScalarStore implements store.ScalarRepository in-memory.
type ScalarStore struct {
	mu     sync.RWMutex
	runs   map[uuid.UUID]store.Run
	points map[pointKey]store.Point
}

var _ store.ScalarRepository = (*ScalarStore)(nil)

// NewScalarStore constructs an empty ScalarStore.
func NewScalarStore() *ScalarStore {
	return &ScalarStore{
		runs:   make(map[uuid.UUID]store.Run),
		points: make(map[pointKey]store.Point),
	}
}

// UpsertRunStart stores run unless a run with the same ID already exists.
func (s *ScalarStore) UpsertRunStart(_ context.Context, run store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return nil
	}
	if run.Status == "" {
		run.Status = store.RunOpen
	}
	s.runs[run.ID] = run
	return nil
}

// CompleteRun records the final status of a run.
func (s *ScalarStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = &finishedAt
	run.Status = status
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	s.runs[runID] = run
	return nil
}

// AppendScalars stores points, replacing any previous value at the same step.
func (s *ScalarStore) AppendScalars(_ context.Context, points []store.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[pointKey{run: p.RunID, name: p.Name, step: p.Step}] = p
	}
	return nil
}

// GetRun returns a run or store.ErrNotFound.
func (s *ScalarStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (s *ScalarStore) ListRuns(_ context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	s.mu.RLock()
	runs := make([]store.Run, 0, len(s.runs))
	for _, run := range s.runs {
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	s.mu.RUnlock()
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListScalars returns the points of one run ordered by name then step.
func (s *ScalarStore) ListScalars(_ context.Context, runID uuid.UUID, name string, limit, offset int) ([]store.Point, error) {
	s.mu.RLock()
	points := make([]store.Point, 0)
	for key, p := range s.points {
		if key.run != runID || (name != "" && key.name != name) {
			continue
		}
		points = append(points, p)
	}
	s.mu.RUnlock()
	sort.Slice(points, func(i, j int) bool {
		if points[i].Name != points[j].Name {
			return points[i].Name < points[j].Name
		}
		return points[i].Step < points[j].Step
	})
	return page(points, limit, offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
