package postgres

import (
	"context"
	"fmt"
)

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id            uuid PRIMARY KEY,
	name          text        NOT NULL,
	log_dir       text        NOT NULL,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text        NOT NULL,
	error_message text
);
CREATE TABLE IF NOT EXISTS %[2]s (
	run_id    uuid        NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	name      text        NOT NULL,
	step      bigint      NOT NULL,
	value     real        NOT NULL,
	wall_time timestamptz NOT NULL,
	PRIMARY KEY (run_id, name, step)
);`

// Schema returns the DDL for the configured tables.
func (s *ScalarStore) Schema() string {
	return fmt.Sprintf(schemaTemplate, s.runs, s.points)
}

// EnsureSchema creates the run and point tables when they are missing.
func (s *ScalarStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, s.Schema()); err != nil {
		return fmt.Errorf("ensure scalar schema: %w", err)
	}
	return nil
}
