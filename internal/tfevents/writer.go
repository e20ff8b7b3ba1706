package tfevents

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JakeFAU/tbprogress/internal/clock/system"
	"github.com/JakeFAU/tbprogress/internal/model"
)

// ErrClosed is returned by writes issued after Close.
var ErrClosed = errors.New("event writer is closed")

// ErrStepRange is returned for steps that do not fit the event's signed step field.
var ErrStepRange = errors.New("step exceeds max int64")

const filePrefix = "events.out.tfevents."

// maxNameAttempts bounds the collision suffixes tried when two writers open
// the same directory within one second.
const maxNameAttempts = 1000

// Clock supplies wall times for events and file names.
type Clock interface {
	Now() time.Time
}

// Observer receives write statistics. metrics.Collectors implements it.
type Observer interface {
	ObserveRecord(bytes int)
	ObserveFlush(d time.Duration)
}

// Option customizes a FileWriter.
type Option func(*FileWriter)

// WithClock overrides the wall clock.
func WithClock(c Clock) Option {
	return func(w *FileWriter) {
		if c != nil {
			w.clock = c
		}
	}
}

// WithModel attaches a model whose graph is written right after the file
// version event.
func WithModel(m model.Model) Option {
	return func(w *FileWriter) {
		w.model = m
	}
}

// WithFlushEvery flushes the buffer after every n scalar records. Zero keeps
// records buffered until Flush or Close.
func WithFlushEvery(n int) Option {
	return func(w *FileWriter) {
		if n > 0 {
			w.flushEvery = n
		}
	}
}

// WithFilenameSuffix appends suffix to the generated file name.
func WithFilenameSuffix(suffix string) Option {
	return func(w *FileWriter) {
		w.suffix = suffix
	}
}

// WithHostname overrides the host label in the file name.
func WithHostname(host string) Option {
	return func(w *FileWriter) {
		if host != "" {
			w.hostname = host
		}
	}
}

// WithObserver reports record sizes and flush latency.
func WithObserver(o Observer) Option {
	return func(w *FileWriter) {
		w.observer = o
	}
}

// FileWriter appends events to a single event file. It is not safe for
// concurrent use; callers serialize access.
type FileWriter struct {
	dir        string
	path       string
	hostname   string
	suffix     string
	clock      Clock
	model      model.Model
	observer   Observer
	flushEvery int

	file    *os.File
	buf     *bufio.Writer
	pending int
	closed  bool
}

// Open creates dir if needed and starts a new event file inside it. The file
// version event, and the model graph when one is bound, are flushed before
// Open returns.
func Open(dir string, opts ...Option) (*FileWriter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("log directory is required")
	}
	w := &FileWriter{
		dir:      dir,
		hostname: defaultHostname(),
		clock:    system.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := model.Validate(w.model); err != nil {
		return nil, fmt.Errorf("invalid model: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	file, err := w.createFile()
	if err != nil {
		return nil, err
	}
	w.file = file
	w.path = file.Name()
	w.buf = bufio.NewWriter(file)

	if err := w.writeEvent(Event{WallTime: WallTimeOf(w.clock.Now()), FileVersion: FileVersion}); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	if w.model != nil {
		if err := w.writeGraph(w.model); err != nil {
			return nil, errors.Join(err, file.Close())
		}
	}
	if err := w.Flush(); err != nil {
		return nil, errors.Join(err, file.Close())
	}
	return w, nil
}

func (w *FileWriter) createFile() (*os.File, error) {
	base := FileName(w.clock.Now(), w.hostname, w.suffix)
	for i := 0; i < maxNameAttempts; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s.%d", base, i)
		}
		file, err := os.OpenFile(filepath.Join(w.dir, name), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return file, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create event file: %w", err)
		}
	}
	return nil, fmt.Errorf("create event file: too many files named %s", base)
}

// FileName builds the TensorBoard event file name for t and host.
func FileName(t time.Time, host, suffix string) string {
	return fmt.Sprintf("%s%010d.%s%s", filePrefix, t.Unix(), host, suffix)
}

// IsEventFile reports whether name looks like an event file.
func IsEventFile(name string) bool {
	return strings.HasPrefix(filepath.Base(name), filePrefix)
}

func defaultHostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "localhost"
	}
	return host
}

// Path returns the event file location.
func (w *FileWriter) Path() string {
	return w.path
}

// Dir returns the directory the writer was opened on.
func (w *FileWriter) Dir() string {
	return w.dir
}

// WriteScalar appends one (name, value, step) record.
func (w *FileWriter) WriteScalar(name string, value float32, step uint64) error {
	if w.closed {
		return ErrClosed
	}
	if name == "" {
		return errors.New("scalar name is required")
	}
	if step > math.MaxInt64 {
		return fmt.Errorf("scalar %q step %d: %w", name, step, ErrStepRange)
	}
	evt := Event{
		WallTime: WallTimeOf(w.clock.Now()),
		Step:     int64(step), //nolint:gosec // range checked above
		Summary:  []SummaryValue{{Tag: name, SimpleValue: value}},
	}
	if err := w.writeEvent(evt); err != nil {
		return err
	}
	w.pending++
	if w.flushEvery > 0 && w.pending >= w.flushEvery {
		return w.Flush()
	}
	return nil
}

// WriteGraph appends a graph event for m.
func (w *FileWriter) WriteGraph(m model.Model) error {
	if w.closed {
		return ErrClosed
	}
	if m == nil {
		return errors.New("model is required")
	}
	if err := model.Validate(m); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	return w.writeGraph(m)
}

func (w *FileWriter) writeGraph(m model.Model) error {
	return w.writeEvent(Event{WallTime: WallTimeOf(w.clock.Now()), GraphDef: EncodeGraphDef(m)})
}

func (w *FileWriter) writeEvent(evt Event) error {
	n, err := writeRecord(w.buf, evt.Marshal())
	if err != nil {
		return err
	}
	if w.observer != nil {
		w.observer.ObserveRecord(n)
	}
	return nil
}

// Flush pushes buffered records to the file.
func (w *FileWriter) Flush() error {
	if w.closed {
		return ErrClosed
	}
	start := time.Now()
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush event file: %w", err)
	}
	w.pending = 0
	if w.observer != nil {
		w.observer.ObserveFlush(time.Since(start))
	}
	return nil
}

// Close flushes and releases the file. Calling Close again is a no-op.
func (w *FileWriter) Close() error {
	if w.closed {
		return nil
	}
	flushErr := w.Flush()
	w.closed = true
	closeErr := w.file.Close()
	if flushErr != nil || closeErr != nil {
		return fmt.Errorf("close event file: %w", errors.Join(flushErr, closeErr))
	}
	return nil
}

// Closed reports whether Close has run.
func (w *FileWriter) Closed() bool {
	return w.closed
}
