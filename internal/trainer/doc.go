// Package trainer is a small logistic-regression training loop that reports
// progress the way a deep-learning framework does: cumulative counters
// handed to progress.Writer callbacks every few updates and at summaries.
// It exists to drive the progress adapter end to end.
package trainer
