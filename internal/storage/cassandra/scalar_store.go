// Package cassandra persists scalar runs and points in Apache Cassandra.
// Points are partitioned by run and clustered by (name, step), so a run's
// curves come back in the order the query API serves them.
package cassandra

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"github.com/JakeFAU/tbprogress/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultRunsTable   = "scalar_runs"
	DefaultPointsTable = "scalar_points"
)

// Config controls the cluster connection.
type Config struct {
	Hosts            []string
	Keyspace         string
	RunsTable        string
	PointsTable      string
	WriteConsistency string
	ReadConsistency  string
}

// ScalarStore implements store.ScalarRepository on Cassandra.
type ScalarStore struct {
	session session
	runs    string
	points  string
}

var _ store.ScalarRepository = (*ScalarStore)(nil)

// NewScalarStore dials the cluster described by cfg.
func NewScalarStore(cfg Config) (*ScalarStore, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("database.cassandra.hosts is required")
	}
	if cfg.Keyspace == "" {
		return nil, fmt.Errorf("database.cassandra.keyspace is required")
	}
	sess, err := dial(cfg)
	if err != nil {
		return nil, err
	}
	s, err := newScalarStore(sess, cfg.RunsTable, cfg.PointsTable)
	if err != nil {
		sess.Close()
		return nil, err
	}
	return s, nil
}

func newScalarStore(sess session, runsTable, pointsTable string) (*ScalarStore, error) {
	if sess == nil {
		return nil, fmt.Errorf("session is required")
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
	return &ScalarStore{session: sess, runs: runsTable, points: pointsTable}, nil
}

// Close closes the session.
func (s *ScalarStore) Close() {
	if s == nil || s.session == nil {
		return
	}
	s.session.Close()
}

// Schema returns one CREATE TABLE statement per table.
func (s *ScalarStore) Schema() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id uuid PRIMARY KEY,
	name text,
	log_dir text,
	started_at timestamp,
	finished_at timestamp,
	status text,
	error_message text
)`, s.runs),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_id uuid,
	name text,
	step bigint,
	value float,
	wall_time timestamp,
	PRIMARY KEY ((run_id), name, step)
) WITH CLUSTERING ORDER BY (name ASC, step ASC)`, s.points),
	}
}

// EnsureSchema creates the tables when they are missing.
func (s *ScalarStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.Schema() {
		if err := s.session.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure scalar schema: %w", err)
		}
	}
	return nil
}

// UpsertRunStart inserts a run row; an existing row keeps its original values.
func (s *ScalarStore) UpsertRunStart(ctx context.Context, run store.Run) error {
	status := run.Status
	if status == "" {
		status = store.RunOpen
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, name, log_dir, started_at, status) VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`, s.runs)
	if _, err := s.session.ExecCAS(ctx, stmt, gocql.UUID(run.ID), run.Name, run.LogDir, run.StartedAt, string(status)); err != nil {
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
	stmt := fmt.Sprintf(`UPDATE %s SET finished_at = ?, status = ?, error_message = ? WHERE id = ? IF EXISTS`, s.runs)
	applied, err := s.session.ExecCAS(ctx, stmt, finishedAt, string(status), errMsg, gocql.UUID(runID))
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

// AppendScalars writes the batch as one logged batch. A point already
// stored at the same (run, name, step) is overwritten.
func (s *ScalarStore) AppendScalars(ctx context.Context, points []store.Point) error {
	if len(points) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (run_id, name, step, value, wall_time) VALUES (?, ?, ?, ?, ?)`, s.points)
	rows := make([][]any, 0, len(points))
	for _, p := range points {
		rows = append(rows, []any{gocql.UUID(p.RunID), p.Name, int64(p.Step), p.Value, p.WallTime})
	}
	if err := s.session.ExecBatch(ctx, stmt, rows); err != nil {
		return fmt.Errorf("insert scalar batch: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *ScalarStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	stmt := fmt.Sprintf(`SELECT id, name, log_dir, started_at, finished_at, status, error_message FROM %s WHERE id = ?`, s.runs)
	it := s.session.Iter(ctx, stmt, gocql.UUID(runID))
	run, ok := scanRun(it)
	if err := it.Close(); err != nil {
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListRuns retrieves runs newest first, with optional status filtering.
// The runs table is small, so filtering and ordering happen client side.
func (s *ScalarStore) ListRuns(ctx context.Context, status *store.RunStatus, limit, offset int) ([]store.Run, error) {
	stmt := fmt.Sprintf(`SELECT id, name, log_dir, started_at, finished_at, status, error_message FROM %s`, s.runs)
	it := s.session.Iter(ctx, stmt)
	var runs []store.Run
	for {
		run, ok := scanRun(it)
		if !ok {
			break
		}
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return page(runs, limit, offset), nil
}

// ListScalars retrieves the points of one run ordered by name and step.
func (s *ScalarStore) ListScalars(ctx context.Context, runID uuid.UUID, name string, limit, offset int) ([]store.Point, error) {
	stmt := fmt.Sprintf(`SELECT run_id, name, step, value, wall_time FROM %s WHERE run_id = ?`, s.points)
	args := []any{gocql.UUID(runID)}
	if name != "" {
		stmt += ` AND name = ?`
		args = append(args, name)
	}
	if limit > 0 {
		stmt += ` LIMIT ?`
		args = append(args, fetchLimit(limit, offset))
	}
	it := s.session.Iter(ctx, stmt, args...)
	var (
		points []store.Point
		id     gocql.UUID
		p      store.Point
		step   int64
	)
	for it.Scan(&id, &p.Name, &step, &p.Value, &p.WallTime) {
		p.RunID = uuid.UUID(id)
		p.Step = 0
		if step > 0 {
			p.Step = uint64(step)
		}
		points = append(points, p)
	}
	if err := it.Close(); err != nil {
		return nil, fmt.Errorf("failed to list scalars: %w", err)
	}
	return page(points, limit, offset), nil
}

func scanRun(it scanner) (store.Run, bool) {
	var (
		id       gocql.UUID
		run      store.Run
		finished time.Time
		status   string
		errMsg   string
	)
	if !it.Scan(&id, &run.Name, &run.LogDir, &run.StartedAt, &finished, &status, &errMsg) {
		return store.Run{}, false
	}
	run.ID = uuid.UUID(id)
	run.Status = store.RunStatus(status)
	if !finished.IsZero() {
		run.FinishedAt = &finished
	}
	if errMsg != "" {
		run.ErrorMessage = &errMsg
	}
	return run, true
}

// fetchLimit returns the CQL LIMIT covering limit rows after offset,
// saturated at the largest value the int column accepts.
func fetchLimit(limit, offset int) int {
	offset = max(offset, 0)
	if limit >= math.MaxInt32 || offset >= math.MaxInt32-limit {
		return math.MaxInt32
	}
	return limit + offset
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
