package scalar

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record is one point on a named metric curve.
type Record struct {
	// Run identifies the event log the record was written to.
	Run uuid.UUID
	// Name is the curve name, e.g. minibatch/avg_loss.
	Name string
	// Value is the scalar written to the curve.
	Value float32
	// Step positions the value on the curve's x axis.
	Step uint64
	// WallTime is the UTC time the record was written.
	WallTime time.Time
}

// Validate performs coarse validation on Record payloads.
func (r Record) Validate() error {
	if r.Run == uuid.Nil {
		return errors.New("run id is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if r.WallTime.IsZero() {
		return errors.New("wall time is required")
	}
	return nil
}
