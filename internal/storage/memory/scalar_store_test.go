package memory

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tbprogress/internal/store"
)

func TestScalarStoreRunLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewScalarStore()
	id := uuid.New()
	started := time.Unix(1700000000, 0).UTC()

	require.NoError(t, s.UpsertRunStart(ctx, store.Run{ID: id, Name: "main", StartedAt: started}))
	require.NoError(t, s.UpsertRunStart(ctx, store.Run{ID: id, Name: "ignored", StartedAt: started}))

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "main", run.Name)
	require.Equal(t, store.RunOpen, run.Status)

	msg := "sink failed"
	require.NoError(t, s.CompleteRun(ctx, id, started.Add(time.Minute), store.RunError, &msg))
	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, "sink failed", *run.ErrorMessage)

	closed := store.RunClosed
	runs, err := s.ListRuns(ctx, &closed, 10, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestScalarStoreUnknownRun(t *testing.T) {
	t.Parallel()

	s := NewScalarStore()
	_, err := s.GetRun(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
	err = s.CompleteRun(context.Background(), uuid.New(), time.Now(), store.RunClosed, nil)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestScalarStoreListScalarsOrdersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewScalarStore()
	run := uuid.New()
	other := uuid.New()
	at := time.Unix(1700000000, 0).UTC()
	require.NoError(t, s.AppendScalars(ctx, []store.Point{
		{RunID: run, Name: "minibatch/avg_metric", Step: 2, Value: 0.2, WallTime: at},
		{RunID: run, Name: "minibatch/avg_loss", Step: 2, Value: 0.4, WallTime: at},
		{RunID: run, Name: "minibatch/avg_loss", Step: 1, Value: 0.9, WallTime: at},
		{RunID: other, Name: "minibatch/avg_loss", Step: 1, Value: 9, WallTime: at},
	}))
	// Rewriting a step replaces the value.
	require.NoError(t, s.AppendScalars(ctx, []store.Point{
		{RunID: run, Name: "minibatch/avg_loss", Step: 1, Value: 0.8, WallTime: at},
	}))

	all, err := s.ListScalars(ctx, run, "", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "minibatch/avg_loss", all[0].Name)
	require.Equal(t, uint64(1), all[0].Step)
	require.InDelta(t, 0.8, all[0].Value, 1e-6)
	require.Equal(t, "minibatch/avg_metric", all[2].Name)

	loss, err := s.ListScalars(ctx, run, "minibatch/avg_loss", 1, 1)
	require.NoError(t, err)
	require.Len(t, loss, 1)
	require.Equal(t, uint64(2), loss[0].Step)

	none, err := s.ListScalars(ctx, run, "", 10, 50)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestScalarStoreListRunsNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewScalarStore()
	older := store.Run{ID: uuid.New(), Name: "a", StartedAt: time.Unix(100, 0)}
	newer := store.Run{ID: uuid.New(), Name: "b", StartedAt: time.Unix(200, 0)}
	require.NoError(t, s.UpsertRunStart(ctx, older))
	require.NoError(t, s.UpsertRunStart(ctx, newer))

	runs, err := s.ListRuns(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "b", runs[0].Name)
}
