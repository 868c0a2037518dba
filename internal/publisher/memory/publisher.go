// Package memory contains an in-memory publisher used by tests and by local
// runs where no events topic is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	// Fail, when set, makes every Publish return this error.
	Fail error

	mu   sync.RWMutex
	msgs []PublishedMessage
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.Fail != nil {
		return "", p.Fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.msgs)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.msgs))
	copy(out, p.msgs)
	return out
}

// Reset clears recorded messages between test cases.
func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}
