package scalar

import "context"

// Sink consumes batches of records. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Record) error
	Close(ctx context.Context) error
}

// Emitter publishes individual records; Hub satisfies this interface so the
// progress adapter stays agnostic about how mirrors buffer or persist.
type Emitter interface {
	Emit(rec Record)
}
