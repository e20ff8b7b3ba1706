package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tbprogress/internal/scalar"
)

// PrometheusSink exposes the latest value and step of every curve as gauges,
// so a scrape shows the same numbers TensorBoard would plot last.
type PrometheusSink struct {
	value   *prometheus.GaugeVec
	step    *prometheus.GaugeVec
	records *prometheus.CounterVec

	mu        sync.Mutex
	forgotten map[string]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
// An empty namespace defaults to "tbprogress".
func NewPrometheusSink(reg prometheus.Registerer, namespace string) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "tbprogress"
	}
	s := &PrometheusSink{
		value: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scalar_value",
			Help:      "Latest value written to each scalar curve.",
		}, []string{"run", "name"}),
		step: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scalar_step",
			Help:      "Step of the latest value written to each scalar curve.",
		}, []string{"run", "name"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scalar_records_total",
			Help:      "Scalar records mirrored, partitioned by curve name.",
		}, []string{"name"}),
		forgotten: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{s.value, s.step, s.records} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register scalar collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Records arrive in write
// order, so the last one per curve wins. Records of forgotten runs are
// counted but do not recreate their gauges.
func (s *PrometheusSink) Consume(_ context.Context, batch []scalar.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range batch {
		run := rec.Run.String()
		if _, gone := s.forgotten[run]; gone {
			s.records.WithLabelValues(rec.Name).Inc()
			continue
		}
		s.value.WithLabelValues(run, rec.Name).Set(float64(rec.Value))
		s.step.WithLabelValues(run, rec.Name).Set(float64(rec.Step))
		s.records.WithLabelValues(rec.Name).Inc()
	}
	return nil
}

// Forget drops the series of a finished run.
func (s *PrometheusSink) Forget(run string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgotten[run] = struct{}{}
	s.value.DeletePartialMatch(prometheus.Labels{"run": run})
	s.step.DeletePartialMatch(prometheus.Labels{"run": run})
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
