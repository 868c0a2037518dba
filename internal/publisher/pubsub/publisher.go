// Package pubsub implements the Google Cloud Pub/Sub publisher behind the
// events sink.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
)

// Publisher wraps a topic-bound Pub/Sub publisher client. The topic argument
// of Publish travels as a message attribute for consumers that route on it;
// the underlying client is already bound to one topic.
type Publisher struct {
	publisher *pubsub.Publisher
}

// New creates a Publisher around a topic-bound client.
func New(publisher *pubsub.Publisher) *Publisher {
	return &Publisher{publisher: publisher}
}

// Publish marshals the payload to JSON and publishes it, blocking until the
// server acknowledges. The current trace context is injected into message
// attributes so consumers can continue the span.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.publisher == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"topic": topic},
	}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: msg.Attributes})

	id, err := p.publisher.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes outstanding publishes and releases the client's send workers.
func (p *Publisher) Stop() {
	if p != nil && p.publisher != nil {
		p.publisher.Stop()
	}
}

// attributeCarrier adapts Pub/Sub attributes to the TextMapCarrier shape the
// propagator writes through.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string { return c.attrs[key] }

func (c *attributeCarrier) Set(key, value string) { c.attrs[key] = value }

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
