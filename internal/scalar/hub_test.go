package scalar

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// TestHubBatchBySize verifies the hub flushes immediately once the batch size limit is reached.
func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:      8,
		MaxBatchRecords: 2,
		MaxBatchWait:    time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	rec := sampleRecord("minibatch/avg_loss", 1)
	hub.Emit(rec)
	hub.Emit(rec)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

// TestHubBatchByTimer verifies the timer-based flush kicks in when the batch is small.
func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:      4,
		MaxBatchRecords: 10,
		MaxBatchWait:    25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleRecord("summary/avg_loss", 1))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

// TestHubEmitNonBlockingWithoutConsumers asserts Emit never blocks callers, even without sinks.
func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		cfg:     Config{},
		records: make(chan Record),
		logger:  zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleRecord("minibatch/avg_loss", 1))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Stats().Dropped)
}

// TestHubFlushOnClose ensures Close drains any buffered records before returning.
func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:      4,
		MaxBatchRecords: 100,
		MaxBatchWait:    time.Minute,
	}, sink)

	hub.Emit(sampleRecord("minibatch/avg_metric", 3))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())
	require.Equal(t, Stats{Emitted: 1, Forwarded: 1}, hub.Stats())
}

// TestHubDiscardsInvalidRecords checks records without a run never reach sinks.
func TestHubDiscardsInvalidRecords(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchRecords: 1}, sink)
	hub.Emit(Record{Name: "x", WallTime: time.Now()})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

// TestHubCountsSinkFailures ensures a failing sink does not stop the others.
func TestHubCountsSinkFailures(t *testing.T) {
	t.Parallel()

	good := newStubSink()
	bad := &failingSink{}
	hub := NewHub(Config{MaxBatchRecords: 1}, bad, good)
	hub.Emit(sampleRecord("a", 1))
	require.NoError(t, hub.Close(context.Background()))

	require.Len(t, good.Batches(), 1)
	require.Equal(t, int64(1), hub.Stats().SinkFails)
}

// TestHubEmitAfterCloseIsIgnored guards against sends on a stopped hub.
func TestHubEmitAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()

	hub := NewHub(Config{})
	require.NoError(t, hub.Close(context.Background()))
	hub.Emit(sampleRecord("a", 1))
	require.Equal(t, int64(0), hub.Stats().Emitted)
}

// TestHubForwardsEveryAcceptedRecordWhenClosingUnderLoad races emitters
// against Close and checks that nothing counted as emitted is lost.
func TestHubForwardsEveryAcceptedRecordWhenClosingUnderLoad(t *testing.T) {
	t.Parallel()

	for round := 0; round < 20; round++ {
		sink := newStubSink()
		hub := NewHub(Config{BufferSize: 64, MaxBatchRecords: 8, MaxBatchWait: time.Millisecond}, sink)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					hub.Emit(sampleRecord("minibatch/avg_loss", uint64(i)))
				}
			}()
		}
		time.Sleep(time.Millisecond)
		require.NoError(t, hub.Close(context.Background()))
		wg.Wait()

		total := 0
		for _, b := range sink.Batches() {
			total += len(b)
		}
		stats := hub.Stats()
		require.Equal(t, stats.Emitted, stats.Forwarded)
		require.Equal(t, stats.Emitted, int64(total))
	}
}

// TestNilHubIsSafe allows callers to hold an unset *Hub as an Emitter.
func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleRecord("a", 1))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, Stats{}, hub.Stats())
}

func TestRecordValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleRecord("a", 1).Validate())
	require.Error(t, Record{Name: "a", WallTime: time.Now()}.Validate())
	require.Error(t, Record{Run: uuid.New(), WallTime: time.Now()}.Validate())
	require.Error(t, Record{Run: uuid.New(), Name: "a"}.Validate())
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Record
	closed  bool
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Record{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Record(nil), batch...))
	return nil
}

func (s *stubSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *stubSink) Batches() [][]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Record, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Record(nil), b...)
	}
	return out
}

type failingSink struct{}

func (failingSink) Consume(context.Context, []Record) error { return errors.New("boom") }

func (failingSink) Close(context.Context) error { return nil }

func sampleRecord(name string, step uint64) Record {
	return Record{
		Run:      uuid.New(),
		Name:     name,
		Value:    0.5,
		Step:     step,
		WallTime: time.Now(),
	}
}
