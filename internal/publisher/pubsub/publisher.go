// Package pubsub implements a Google Cloud Pub/Sub publisher for scalar
// batch notifications.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Attributer is implemented by payloads that carry Pub/Sub message attributes.
type Attributer interface {
	Attributes() map[string]string
}

// Publisher wraps a Pub/Sub publisher client.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher for the provided topic publisher.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it to the topic bound to
// the underlying publisher. The topic argument is informational only.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	msg, err := buildMessage(ctx, payload)
	if err != nil {
		return "", err
	}
	result := p.publisher.Publish(ctx, msg)
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and stops the background publisher goroutines.
func (p *Publisher) Stop() {
	if p == nil || p.publisher == nil {
		return
	}
	p.publisher.Stop()
}

func buildMessage(ctx context.Context, payload any) (*pubsub.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content-type": "application/json"},
	}
	if a, ok := payload.(Attributer); ok {
		for k, v := range a.Attributes() {
			msg.Attributes[k] = v
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})
	return msg, nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
