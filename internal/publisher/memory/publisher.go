// Package memory records published notifications in-process for tests and
// local runs without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/license-resolver/internal/publisher"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher stores published payloads for inspection. When Err is set every
// publish fails with it.
type Publisher struct {
	Err error

	mu       sync.RWMutex
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.Err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, p.Err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns a copy of the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]PublishedMessage(nil), p.messages...)
}

var _ publisher.Publisher = (*Publisher)(nil)
