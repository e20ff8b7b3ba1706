package progress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/tbprogress/internal/model"
	"github.com/JakeFAU/tbprogress/internal/tfevents"
)

// ExampleNew writes one minibatch update to an event file and reads it back.
func ExampleNew() {
	dir, err := os.MkdirTemp("", "tbprogress-example")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck // example cleanup

	a, err := New(filepath.Join(dir, "main"), model.LogisticRegression())
	if err != nil {
		panic(err)
	}
	a.OnTrainingUpdate(Range{0, 100}, Range{0, 1}, ValueRange{0, 50}, ValueRange{0, 10})
	if err := a.Close(context.Background()); err != nil {
		panic(err)
	}

	events, err := tfevents.ReadFile(a.Path())
	if err != nil {
		panic(err)
	}
	for _, p := range tfevents.Scalars(events) {
		fmt.Printf("%s step=%d value=%.2f\n", p.Tag, p.Step, p.Value)
	}
	// Output:
	// minibatch/avg_loss step=1 value=0.50
	// minibatch/avg_metric step=1 value=0.10
}

// ExampleAverage shows the zero-denominator guard.
func ExampleAverage() {
	fmt.Println(Average(ValueRange{0, 50}, Range{0, 100}))
	fmt.Println(Average(ValueRange{0, 50}, Range{10, 10}))
	fmt.Println(AverageSum(3, 0))
	// Output:
	// 0.5
	// 0
	// 0
}
