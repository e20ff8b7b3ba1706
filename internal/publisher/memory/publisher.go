// Package memory keeps published scalar batches in process. The app selects
// it when pubsub.project_id is "memory", and tests use it to inspect what
// would have gone to Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
)

// PublishedMessage captures one publish call. Attributes holds what the
// payload would have carried as Pub/Sub message attributes.
type PublishedMessage struct {
	ID         string
	Topic      string
	Payload    any
	Attributes map[string]string
}

// Publisher records payloads per topic.
type Publisher struct {
	mu       sync.Mutex
	messages []PublishedMessage
	seq      map[string]int
	failNext error
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{seq: make(map[string]int)}
}

// FailNext makes the next Publish call return err without recording.
func (p *Publisher) FailNext(err error) {
	p.mu.Lock()
	p.failNext = err
	p.mu.Unlock()
}

// Publish records payload under topic. IDs are "<topic>-<n>" with n counted
// per topic from 1.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		return "", err
	}
	p.seq[topic]++
	msg := PublishedMessage{
		ID:      fmt.Sprintf("%s-%d", topic, p.seq[topic]),
		Topic:   topic,
		Payload: payload,
	}
	if a, ok := payload.(interface{ Attributes() map[string]string }); ok {
		msg.Attributes = maps.Clone(a.Attributes())
	}
	p.messages = append(p.messages, msg)
	return msg.ID, nil
}

// Messages returns every recorded publish in order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.messages...)
}

// Topic returns the recorded publishes for one topic.
func (p *Publisher) Topic(topic string) []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}
