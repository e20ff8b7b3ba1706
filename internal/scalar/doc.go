// Package scalar provides the record primitive, the non-blocking mirror hub,
// and the sink interfaces used to copy scalar writes out of the training
// process. The event file stays the primary, synchronous sink; the hub batches
// the same records on a background goroutine and fans them out to secondary
// sinks such as Prometheus, Postgres, or Pub/Sub.
package scalar
