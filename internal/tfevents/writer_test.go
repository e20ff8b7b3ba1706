package tfevents

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/tbprogress/internal/clock/system"
	"github.com/JakeFAU/tbprogress/internal/model"
)

var fixedClock = system.Fixed{At: time.Unix(1700000000, 0).UTC()}

func TestOpenWritesFileVersionFirst(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "log", "main")
	w, err := Open(dir, WithClock(fixedClock), WithHostname("host"))
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "events.out.tfevents.1700000000.host"), w.Path())
	require.NoError(t, w.Close())

	events, err := ReadFile(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, FileVersion, events[0].FileVersion)
	require.InDelta(t, 1700000000.0, events[0].WallTime, 1e-6)
}

func TestWriterRecordsScalarsAndGraph(t *testing.T) {
	t.Parallel()

	w, err := Open(t.TempDir(), WithClock(fixedClock), WithModel(model.LogisticRegression()))
	require.NoError(t, err)
	require.NoError(t, w.WriteScalar("minibatch/avg_loss", 0.5, 1))
	require.NoError(t, w.WriteScalar("minibatch/avg_metric", 0.25, 1))
	require.NoError(t, w.Close())

	events, err := ReadFile(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.NotEmpty(t, events[1].GraphDef)

	points := Scalars(events)
	require.Equal(t, []Point{
		{Tag: "minibatch/avg_loss", Value: 0.5, Step: 1, WallTime: 1700000000},
		{Tag: "minibatch/avg_metric", Value: 0.25, Step: 1, WallTime: 1700000000},
	}, points)
}

func TestWriterRejectsWritesAfterClose(t *testing.T) {
	t.Parallel()

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.True(t, w.Closed())

	require.ErrorIs(t, w.WriteScalar("x", 1, 1), ErrClosed)
	require.ErrorIs(t, w.Flush(), ErrClosed)
	require.ErrorIs(t, w.WriteGraph(model.LogisticRegression()), ErrClosed)
}

func TestWriterRejectsStepsBeyondInt64(t *testing.T) {
	t.Parallel()

	w, err := Open(t.TempDir(), WithClock(fixedClock))
	require.NoError(t, err)
	require.NoError(t, w.WriteScalar("edge", 1, math.MaxInt64))
	require.ErrorIs(t, w.WriteScalar("x", 1, math.MaxUint64), ErrStepRange)
	require.ErrorIs(t, w.WriteScalar("y", 1, math.MaxInt64+1), ErrStepRange)
	require.NoError(t, w.Close())

	events, err := ReadFile(w.Path())
	require.NoError(t, err)
	points := Scalars(events)
	require.Len(t, points, 1)
	require.Equal(t, "edge", points[0].Tag)
	require.EqualValues(t, math.MaxInt64, points[0].Step)
}

func TestWriterRejectsEmptyName(t *testing.T) {
	t.Parallel()

	w, err := Open(t.TempDir())
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck // test cleanup

	require.Error(t, w.WriteScalar("", 1, 1))
}

func TestOpenRequiresDirectory(t *testing.T) {
	t.Parallel()

	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpenRejectsInvalidModel(t *testing.T) {
	t.Parallel()

	bad := model.Static{Graph: []model.Node{{Name: "a", Inputs: []string{"nope"}}}}
	_, err := Open(t.TempDir(), WithModel(bad))
	require.ErrorContains(t, err, "invalid model")
}

func TestOpenAvoidsNameCollisions(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	first, err := Open(dir, WithClock(fixedClock), WithHostname("h"))
	require.NoError(t, err)
	second, err := Open(dir, WithClock(fixedClock), WithHostname("h"))
	require.NoError(t, err)
	require.NotEqual(t, first.Path(), second.Path())
	require.Equal(t, first.Path()+".1", second.Path())
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
}

func TestFlushEveryMakesRecordsVisible(t *testing.T) {
	t.Parallel()

	w, err := Open(t.TempDir(), WithFlushEvery(2))
	require.NoError(t, err)
	defer w.Close() //nolint:errcheck // test cleanup

	require.NoError(t, w.WriteScalar("a", 1, 1))
	events, err := ReadFile(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 1)

	require.NoError(t, w.WriteScalar("b", 2, 2))
	events, err = ReadFile(w.Path())
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestObserverSeesRecordsAndFlushes(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	w, err := Open(t.TempDir(), WithObserver(obs))
	require.NoError(t, err)
	require.NoError(t, w.WriteScalar("a", 1, 1))
	require.NoError(t, w.Close())

	require.Equal(t, 2, obs.records)
	require.Positive(t, obs.bytes)
	require.Equal(t, 2, obs.flushes)

	info, err := os.Stat(w.Path())
	require.NoError(t, err)
	require.Equal(t, int64(obs.bytes), info.Size())
}

func TestIsEventFile(t *testing.T) {
	t.Parallel()

	require.True(t, IsEventFile("/tmp/events.out.tfevents.1700000000.host"))
	require.False(t, IsEventFile("/tmp/notes.txt"))
}

type countingObserver struct {
	records int
	bytes   int
	flushes int
}

func (c *countingObserver) ObserveRecord(n int) {
	c.records++
	c.bytes += n
}

func (c *countingObserver) ObserveFlush(time.Duration) {
	c.flushes++
}
