// Package store declares interfaces for persisting scalar runs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("scalar record not found")

// RunStatus mirrors the scalar_runs status column.
type RunStatus string

// Run statuses persisted in scalar_runs.status.
const (
	RunOpen   RunStatus = "open"
	RunClosed RunStatus = "closed"
	RunError  RunStatus = "error"
)

// Run models one event log written by an adapter or a direct writer.
type Run struct {
	// ID is the run identifier stamped on every record.
	ID uuid.UUID
	// Name is the human label, usually the log directory's base name.
	Name string
	// LogDir is the directory holding the event file.
	LogDir string
	// StartedAt captures when the writer was opened.
	StartedAt time.Time
	// FinishedAt is nil until the run is closed.
	FinishedAt *time.Time
	// Status is open/closed/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// Point is one persisted scalar value.
type Point struct {
	RunID    uuid.UUID
	Name     string
	Value    float32
	Step     uint64
	WallTime time.Time
}

// ScalarRepository persists runs and their scalar curves.
type ScalarRepository interface {
	// UpsertRunStart inserts the run or leaves an existing row untouched.
	UpsertRunStart(ctx context.Context, run Run) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// AppendScalars stores a batch of points atomically.
	AppendScalars(ctx context.Context, points []Point) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListScalars returns points for one run ordered by name then step. An
	// empty name returns every curve.
	ListScalars(ctx context.Context, runID uuid.UUID, name string, limit, offset int) ([]Point, error)
}
