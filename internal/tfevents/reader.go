package tfevents

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Reader decodes events from a TFRecord stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF at a clean end of stream.
func (r *Reader) Next() (Event, error) {
	data, err := readRecord(r.r)
	if err != nil {
		return Event{}, err
	}
	return UnmarshalEvent(data)
}

// ReadFile loads every event in the file at path.
func ReadFile(path string) ([]Event, error) {
	f, err := os.Open(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("open event file: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only

	var events []Event
	rd := NewReader(f)
	for {
		evt, err := rd.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, evt)
	}
}

// Point is a scalar extracted from an event summary.
type Point struct {
	Tag      string
	Value    float32
	Step     int64
	WallTime float64
}

// Scalars flattens the summary values of events into points, in file order.
func Scalars(events []Event) []Point {
	var out []Point
	for _, evt := range events {
		for _, v := range evt.Summary {
			out = append(out, Point{Tag: v.Tag, Value: v.SimpleValue, Step: evt.Step, WallTime: evt.WallTime})
		}
	}
	return out
}
