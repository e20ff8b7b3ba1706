// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/tbprogress/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRunsTable   = "scalar_runs"
	DefaultPointsTable = "scalar_points"
)

// ScalarStoreConfig controls the Postgres connection pool used for scalar rows.
type ScalarStoreConfig struct {
	DSN             string
	RunsTable       string
	PointsTable     string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pgxIface is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ScalarStore implements store.ScalarRepository using Postgres.
type ScalarStore struct {
	pool   pgxIface
	runs   string
	points string
}

var _ store.ScalarRepository = (*ScalarStore)(nil)

// NewScalarStore connects a pool using cfg.
func NewScalarStore(ctx context.Context, cfg ScalarStoreConfig) (*ScalarStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewScalarStoreWithPool(pool, cfg.RunsTable, cfg.PointsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewScalarStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewScalarStoreWithPool(pool pgxIface, runsTable, pointsTable string) (*ScalarStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if runsTable == "" {
		runsTable = DefaultRunsTable
	}
	if pointsTable == "" {
		pointsTable = DefaultPointsTable
	}
	for _, name := range []string{runsTable, pointsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &ScalarStore{pool: pool, runs: runsTable, points: pointsTable}, nil
}

// Close closes the underlying connection pool.
func (s *ScalarStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRunStart inserts a run row; an existing row keeps its original values.
func (s *ScalarStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	status := run.Status
	if status == "" {
		status = store.RunOpen
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, name, log_dir, started_at, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING;
	`, s.runs)
	if _, err := s.pool.Exec(ctx, query, run.ID, run.Name, run.LogDir, run.StartedAt, string(status)); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *ScalarStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`, s.runs)
	res, err := s.pool.Exec(ctx, query, finishedAt, string(status), errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// AppendScalars writes the batch inside one transaction. A point already
// stored at the same (run, name, step) is overwritten.
func (s *ScalarStore) AppendScalars(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin scalar batch: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (run_id, name, step, value, wall_time)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, name, step) DO UPDATE
		SET value = EXCLUDED.value, wall_time = EXCLUDED.wall_time;
	`, s.points)
	for _, p := range points {
		if _, err := tx.Exec(ctx, query, p.RunID, p.Name, int64(p.Step), p.Value, p.WallTime); err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return fmt.Errorf("insert scalar %q: %w", p.Name, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit scalar batch: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ScalarStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, name, log_dir, started_at, finished_at, status, error_message
		FROM %s
		WHERE id = $1;
	`, s.runs)
	run, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
func (s *ScalarStore) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.Run, error) {
	query := fmt.Sprintf(`
		SELECT id, name, log_dir, started_at, finished_at, status, error_message
		FROM %s
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`, s.runs)
	var statusArg *string
	if status != nil {
		v := string(*status)
		statusArg = &v
	}
	rows, err := s.pool.Query(ctx, query, statusArg, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListScalars retrieves the points of one run ordered by name and step.
func (s *ScalarStore) ListScalars(
	ctx context.Context,
	runID uuid.UUID,
	name string,
	limit,
	offset int,
) ([]store.Point, error) {
	query := fmt.Sprintf(`
		SELECT run_id, name, step, value, wall_time
		FROM %s
		WHERE run_id = $1 AND ($2 = '' OR name = $2)
		ORDER BY name, step
		LIMIT $3 OFFSET $4;
	`, s.points)
	rows, err := s.pool.Query(ctx, query, runID, name, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list scalars: %w", err)
	}
	defer rows.Close()

	var points []store.Point
	for rows.Next() {
		var (
			p    store.Point
			step int64
		)
		if err := rows.Scan(&p.RunID, &p.Name, &step, &p.Value, &p.WallTime); err != nil {
			return nil, fmt.Errorf("failed to scan scalar row: %w", err)
		}
		if step > 0 {
			p.Step = uint64(step)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scalars: %w", err)
	}
	return points, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (store.Run, error) {
	var (
		run    store.Run
		status string
	)
	if err := row.Scan(
		&run.ID,
		&run.Name,
		&run.LogDir,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.ErrorMessage,
	); err != nil {
		return store.Run{}, err
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
