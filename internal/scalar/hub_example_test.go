package scalar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Record) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting a record and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:      4,
		MaxBatchRecords: 1,
		MaxBatchWait:    time.Second,
	}, sink)

	hub.Emit(Record{
		Run:      uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		Name:     "minibatch/avg_loss",
		Value:    0.5,
		Step:     1,
		WallTime: time.Unix(0, 0),
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("records forwarded: %d\n", sink.total)
	// Output:
	// records forwarded: 1
}

// ExampleSink implements a custom Sink that keeps the latest value per name.
func ExampleSink() {
	latest := map[string]float32{}
	capture := sinkFunc(func(_ context.Context, batch []Record) error {
		for _, rec := range batch {
			latest[rec.Name] = rec.Value
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:      2,
		MaxBatchRecords: 1,
		MaxBatchWait:    time.Second,
	}, capture)

	run := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	hub.Emit(Record{Run: run, Name: "summary/avg_metric", Value: 0.25, Step: 1, WallTime: time.Unix(0, 0)})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("summary/avg_metric = %.2f\n", latest["summary/avg_metric"])
	// Output:
	// summary/avg_metric = 0.25
}

type sinkFunc func(context.Context, []Record) error

func (f sinkFunc) Consume(ctx context.Context, batch []Record) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
