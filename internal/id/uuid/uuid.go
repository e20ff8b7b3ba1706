// Package uuid generates run identifiers for event logs.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 run IDs.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewRunID returns a UUID7 so runs sort by creation time in the store.
func (Generator) NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}

// MustRunID is NewRunID for callers without an error path, such as option
// defaults. It falls back to a random v4 ID.
func (g Generator) MustRunID() uuid.UUID {
	id, err := g.NewRunID()
	if err != nil {
		return uuid.New()
	}
	return id
}
