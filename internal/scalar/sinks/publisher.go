package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tbprogress/internal/scalar"
)

// Publisher sends one payload to a topic and returns the message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PointMessage is the wire form of one record inside a BatchMessage.
type PointMessage struct {
	Name     string    `json:"name"`
	Value    float32   `json:"value"`
	Step     uint64    `json:"step"`
	WallTime time.Time `json:"wall_time"`
}

// BatchMessage groups the records of one run from a single hub flush.
type BatchMessage struct {
	Run    string         `json:"run"`
	Points []PointMessage `json:"points"`
}

// Attributes exposes the run ID as a message attribute for subscription filters.
func (m BatchMessage) Attributes() map[string]string {
	return map[string]string{"run": m.Run}
}

// PublisherSink publishes one BatchMessage per run per batch.
type PublisherSink struct {
	pub    Publisher
	topic  string
	logger *zap.Logger
}

// NewPublisherSink binds pub to topic.
func NewPublisherSink(pub Publisher, topic string, logger *zap.Logger) *PublisherSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublisherSink{pub: pub, topic: topic, logger: logger}
}

// Consume groups the batch by run, preserving first-seen order, and publishes
// each group. The first publish error aborts the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []scalar.Record) error {
	if s == nil || s.pub == nil || len(batch) == 0 {
		return nil
	}
	var order []string
	groups := make(map[string]*BatchMessage)
	for _, rec := range batch {
		run := rec.Run.String()
		msg, ok := groups[run]
		if !ok {
			msg = &BatchMessage{Run: run}
			groups[run] = msg
			order = append(order, run)
		}
		msg.Points = append(msg.Points, PointMessage{
			Name:     rec.Name,
			Value:    rec.Value,
			Step:     rec.Step,
			WallTime: rec.WallTime.UTC(),
		})
	}
	for _, run := range order {
		id, err := s.pub.Publish(ctx, s.topic, *groups[run])
		if err != nil {
			return fmt.Errorf("publish scalar batch for run %s: %w", run, err)
		}
		s.logger.Debug("scalar batch published",
			zap.String("run", run),
			zap.String("message_id", id),
			zap.Int("points", len(groups[run].Points)),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
