// Package mq carries issue lifecycle events to a message broker. The
// server publishes best-effort notifications (issue.created,
// issue.status_changed, issue.escalated) that downstream consumers such
// as notification workers pick up; delivery is never in the request
// path's failure domain.
package mq

import "context"

// Message is a broker-agnostic event payload.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a delivered message. A non-nil error nacks it.
type Handler func(ctx context.Context, msg Message) error

// Backend is implemented per broker (RabbitMQ, Pub/Sub).
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ hides the configured backend from the rest of the server.
type MQ struct {
	backend Backend
}

func New(backend Backend) *MQ {
	return &MQ{backend: backend}
}

// Publish delivers an event to the named channel and returns the
// broker-assigned message id.
func (m *MQ) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, channel, data, attrs)
}

// Subscribe blocks consuming events from the named channel until ctx is
// cancelled or the backend fails.
func (m *MQ) Subscribe(ctx context.Context, channel string, handler Handler) error {
	return m.backend.Subscribe(ctx, channel, handler)
}

func (m *MQ) Close() error {
	return m.backend.Close()
}
