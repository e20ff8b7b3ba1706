// Package progress turns a training loop's progress callbacks into named
// scalar writes on a TensorBoard event log.
//
// A training loop drives a Writer with cumulative (start, end) counters for
// samples, updates and aggregate loss/metric sums. The Adapter averages the
// deltas and writes:
//
//	minibatch/avg_loss, minibatch/avg_metric   per training update, stepped by total updates
//	summary/avg_loss, summary/avg_metric       per training summary, stepped by summary count
//	minibatch/test_avg_metric                  per test summary once training has updated
//	summary/test_avg_metric                    per test summary before any training update
//
// Adapters are not safe for concurrent use. Callbacks run synchronously on
// the caller's goroutine; the optional mirror is fed without blocking.
package progress
