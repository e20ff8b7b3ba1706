package trainer

import (
	"time"

	"github.com/JakeFAU/tbprogress/internal/progress"
)

// accumulator tracks cumulative counters and the values they had at the
// last report and the last summary.
type accumulator struct {
	samples uint64
	updates uint64
	loss    float64
	metric  float64

	reportedSamples uint64
	reportedUpdates uint64
	reportedLoss    float64
	reportedMetric  float64

	summarySamples uint64
	summaryUpdates uint64
	summaryLoss    float64
	summaryMetric  float64
	summaryStart   time.Time
	summaries      uint64
}

func (a *accumulator) add(samples uint64, loss, metric float64) {
	a.samples += samples
	a.updates++
	a.loss += loss
	a.metric += metric
}

func (a *accumulator) pending() uint64 {
	return a.updates - a.reportedUpdates
}

func (a *accumulator) markReported() {
	a.reportedSamples = a.samples
	a.reportedUpdates = a.updates
	a.reportedLoss = a.loss
	a.reportedMetric = a.metric
}

func (a *accumulator) markSummarized(now time.Time) {
	a.summarySamples = a.samples
	a.summaryUpdates = a.updates
	a.summaryLoss = a.loss
	a.summaryMetric = a.metric
	a.summaryStart = now
}

// Reporter fans cumulative training and test counters out to progress
// writers. Training updates are reported every frequency updates; test
// updates are reported on every call.
type Reporter struct {
	writers   []progress.Writer
	frequency uint64
	now       func() time.Time

	training accumulator
	test     accumulator
}

// NewReporter builds a Reporter. A frequency of 0 is treated as 1.
func NewReporter(frequency uint64, writers ...progress.Writer) *Reporter {
	if frequency == 0 {
		frequency = 1
	}
	r := &Reporter{
		writers:   writers,
		frequency: frequency,
		now:       time.Now,
	}
	r.training.summaryStart = r.now()
	r.test.summaryStart = r.now()
	return r
}

// TotalUpdates returns the cumulative training update count.
func (r *Reporter) TotalUpdates() uint64 {
	return r.training.updates
}

// UpdateTraining records one minibatch update with summed loss and metric.
func (r *Reporter) UpdateTraining(samples uint64, loss, metric float64) {
	r.training.add(samples, loss, metric)
	if r.training.pending() >= r.frequency {
		r.reportTraining()
	}
}

func (r *Reporter) reportTraining() {
	t := &r.training
	for _, w := range r.writers {
		w.OnTrainingUpdate(
			progress.Range{Start: t.reportedSamples, End: t.samples},
			progress.Range{Start: t.reportedUpdates, End: t.updates},
			progress.ValueRange{Start: t.reportedLoss, End: t.loss},
			progress.ValueRange{Start: t.reportedMetric, End: t.metric},
		)
	}
	t.markReported()
}

// UpdateTest records one evaluation minibatch with a summed metric.
func (r *Reporter) UpdateTest(samples uint64, metric float64) {
	t := &r.test
	t.add(samples, 0, metric)
	for _, w := range r.writers {
		w.OnTestUpdate(
			progress.Range{Start: t.reportedSamples, End: t.samples},
			progress.Range{Start: t.reportedUpdates, End: t.updates},
			progress.ValueRange{Start: t.reportedMetric, End: t.metric},
		)
	}
	t.markReported()
}

// WriteTrainingSummary reports any pending updates, then summarizes the
// training since the previous summary.
func (r *Reporter) WriteTrainingSummary() {
	t := &r.training
	if t.pending() > 0 {
		r.reportTraining()
	}
	now := r.now()
	t.summaries++
	for _, w := range r.writers {
		w.OnTrainingSummary(
			t.samples-t.summarySamples,
			t.updates-t.summaryUpdates,
			t.summaries,
			t.loss-t.summaryLoss,
			t.metric-t.summaryMetric,
			now.Sub(t.summaryStart),
		)
	}
	t.markSummarized(now)
}

// WriteTestSummary summarizes the evaluation since the previous test summary.
func (r *Reporter) WriteTestSummary() {
	t := &r.test
	now := r.now()
	t.summaries++
	for _, w := range r.writers {
		w.OnTestSummary(
			t.samples-t.summarySamples,
			t.updates-t.summaryUpdates,
			t.summaries,
			t.metric-t.summaryMetric,
			now.Sub(t.summaryStart),
		)
	}
	t.markSummarized(now)
}
