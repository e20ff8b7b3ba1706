package cassandra

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tbprogress/internal/store"
)

type call struct {
	stmt   string
	values []any
	rows   [][]any
}

// fakeSession records statements and answers queries from scripted rows.
type fakeSession struct {
	calls   []call
	results [][][]any
	applied []bool
	err     error
	closed  bool
}

func (f *fakeSession) Exec(_ context.Context, stmt string, values ...any) error {
	f.calls = append(f.calls, call{stmt: stmt, values: values})
	return f.err
}

func (f *fakeSession) ExecCAS(_ context.Context, stmt string, values ...any) (bool, error) {
	f.calls = append(f.calls, call{stmt: stmt, values: values})
	if f.err != nil {
		return false, f.err
	}
	if len(f.applied) == 0 {
		return true, nil
	}
	applied := f.applied[0]
	f.applied = f.applied[1:]
	return applied, nil
}

func (f *fakeSession) ExecBatch(_ context.Context, stmt string, rows [][]any) error {
	f.calls = append(f.calls, call{stmt: stmt, rows: rows})
	return f.err
}

func (f *fakeSession) Iter(_ context.Context, stmt string, values ...any) scanner {
	f.calls = append(f.calls, call{stmt: stmt, values: values})
	it := &fakeIter{err: f.err}
	if len(f.results) > 0 {
		it.rows = f.results[0]
		f.results = f.results[1:]
	}
	return it
}

func (f *fakeSession) Close() { f.closed = true }

type fakeIter struct {
	rows [][]any
	err  error
}

func (it *fakeIter) Scan(dest ...any) bool {
	if it.err != nil || len(it.rows) == 0 {
		return false
	}
	row := it.rows[0]
	it.rows = it.rows[1:]
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return true
}

func (it *fakeIter) Close() error { return it.err }

var (
	runA = uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	runB = uuid.MustParse("00000000-0000-0000-0000-00000000000b")
	t0   = time.Unix(1700000000, 0).UTC()
)

func runRow(id uuid.UUID, name string, started time.Time, finished time.Time, status, errMsg string) []any {
	return []any{gocql.UUID(id), name, "/logs/" + name, started, finished, status, errMsg}
}

func newStore(t *testing.T) (*ScalarStore, *fakeSession) {
	t.Helper()
	sess := &fakeSession{}
	s, err := newScalarStore(sess, "", "")
	require.NoError(t, err)
	return s, sess
}

func TestNewScalarStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := newScalarStore(nil, "", "")
	require.ErrorContains(t, err, "session is required")
	_, err = newScalarStore(&fakeSession{}, "runs; DROP", "")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewScalarStore(Config{})
	require.ErrorContains(t, err, "hosts")
	_, err = NewScalarStore(Config{Hosts: []string{"127.0.0.1"}})
	require.ErrorContains(t, err, "keyspace")
}

func TestEnsureSchemaCreatesBothTables(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.Len(t, sess.calls, 2)
	require.Contains(t, sess.calls[0].stmt, "CREATE TABLE IF NOT EXISTS scalar_runs")
	require.Contains(t, sess.calls[1].stmt, "PRIMARY KEY ((run_id), name, step)")
}

func TestUpsertRunStartDefaultsStatus(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	require.NoError(t, s.UpsertRunStart(context.Background(), store.Run{ID: runA, Name: "main", LogDir: "/logs/main", StartedAt: t0}))
	require.Len(t, sess.calls, 1)
	require.True(t, strings.HasSuffix(sess.calls[0].stmt, "IF NOT EXISTS"))
	require.Equal(t, []any{gocql.UUID(runA), "main", "/logs/main", t0, "open"}, sess.calls[0].values)
}

func TestCompleteRunNotApplied(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.applied = []bool{false}
	err := s.CompleteRun(context.Background(), runA, t0, store.RunClosed, nil)
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CompleteRun(context.Background(), runA, t0, store.RunClosed, nil))
}

func TestAppendScalarsBatchesRows(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	require.NoError(t, s.AppendScalars(context.Background(), nil))
	require.Empty(t, sess.calls)

	require.NoError(t, s.AppendScalars(context.Background(), []store.Point{
		{RunID: runA, Name: "minibatch/avg_loss", Value: 0.5, Step: 1, WallTime: t0},
		{RunID: runA, Name: "minibatch/avg_loss", Value: 0.25, Step: 2, WallTime: t0},
	}))
	require.Len(t, sess.calls, 1)
	require.Len(t, sess.calls[0].rows, 2)
	require.Equal(t, []any{gocql.UUID(runA), "minibatch/avg_loss", int64(2), float32(0.25), t0}, sess.calls[0].rows[1])
}

func TestAppendScalarsWrapsErrors(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.err = errors.New("unavailable")
	err := s.AppendScalars(context.Background(), []store.Point{{RunID: runA, Name: "x", WallTime: t0}})
	require.ErrorContains(t, err, "insert scalar batch: unavailable")
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.results = [][][]any{
		{runRow(runA, "main", t0, t0.Add(time.Minute), "error", "bucket gone")},
		{},
	}
	run, err := s.GetRun(context.Background(), runA)
	require.NoError(t, err)
	require.Equal(t, runA, run.ID)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, "bucket gone", *run.ErrorMessage)

	_, err = s.GetRun(context.Background(), runB)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestListRunsFiltersAndOrders(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	rows := [][]any{
		runRow(runA, "old", t0, time.Time{}, "open", ""),
		runRow(runB, "new", t0.Add(time.Hour), t0.Add(2*time.Hour), "closed", ""),
	}
	sess.results = [][][]any{rows, rows}

	runs, err := s.ListRuns(context.Background(), nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "new", runs[0].Name)
	require.Nil(t, runs[1].FinishedAt)
	require.Nil(t, runs[1].ErrorMessage)

	open := store.RunOpen
	runs, err = s.ListRuns(context.Background(), &open, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, runA, runs[0].ID)
}

func TestListScalarsPagesAfterLimit(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.results = [][][]any{{
		{gocql.UUID(runA), "loss", int64(1), float32(1), t0},
		{gocql.UUID(runA), "loss", int64(2), float32(2), t0},
		{gocql.UUID(runA), "loss", int64(3), float32(3), t0},
	}}
	points, err := s.ListScalars(context.Background(), runA, "loss", 2, 1)
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, uint64(2), points[0].Step)
	require.Equal(t, uint64(3), points[1].Step)
	require.Equal(t, runA, points[0].RunID)

	require.Len(t, sess.calls, 1)
	require.Contains(t, sess.calls[0].stmt, "AND name = ? LIMIT ?")
	require.Equal(t, []any{gocql.UUID(runA), "loss", 3}, sess.calls[0].values)
}

func TestListScalarsSaturatesHugeOffsets(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.results = [][][]any{{
		{gocql.UUID(runA), "loss", int64(1), float32(1), t0},
	}}
	points, err := s.ListScalars(context.Background(), runA, "", 10, math.MaxInt)
	require.NoError(t, err)
	require.Empty(t, points)
	require.Equal(t, []any{gocql.UUID(runA), math.MaxInt32}, sess.calls[0].values)

	require.Equal(t, 15, fetchLimit(10, 5))
	require.Equal(t, 10, fetchLimit(10, -3))
	require.Equal(t, math.MaxInt32, fetchLimit(math.MaxInt32-1, 1))
	require.Equal(t, math.MaxInt32, fetchLimit(math.MaxInt, 0))
}

func TestListScalarsSurfacesIterErrors(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	sess.err = errors.New("timeout")
	_, err := s.ListScalars(context.Background(), runA, "", 0, 0)
	require.ErrorContains(t, err, "failed to list scalars")
}

func TestCloseClosesSession(t *testing.T) {
	t.Parallel()

	s, sess := newStore(t)
	s.Close()
	require.True(t, sess.closed)
	var nilStore *ScalarStore
	nilStore.Close()
}
