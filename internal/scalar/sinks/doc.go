// Package sinks implements consumers for mirrored scalar records: structured
// logging, Prometheus gauges, repository-backed storage and Pub/Sub
// notifications. Each sink satisfies scalar.Sink and is safe for repeated
// Consume/Close cycles.
package sinks
