// Package bus carries broker events to front-end channels. It supports
// publish/subscribe with subject wildcards and request/reply for the few
// synchronous round-trips. The default deployment uses the in-memory bus;
// NATS is available when the gateway and broker run as separate processes.
package bus

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTimeout is returned when a request times out waiting for a response.
	ErrTimeout = errors.New("request timeout")

	// ErrNoResponders is returned when no subscribers are available to handle a request.
	ErrNoResponders = errors.New("no responders available")

	// ErrClosed is returned when operating on a closed bus or subscription.
	ErrClosed = errors.New("bus or subscription closed")
)

// MessageBus is the outbound event channel between the broker and the
// UI-layer transport. Implementations must be safe for concurrent use.
type MessageBus interface {
	// Publish sends a message to all subscribers of the given subject.
	// Returns immediately; does not wait for message delivery.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The handler runs on a delivery goroutine per subscription.
	// Supports wildcards: "wheelhouse.requester.*.session-done" matches
	// any single requester token.
	Subscribe(ctx context.Context, subject string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a single response.
	Request(ctx context.Context, subject string, data []byte, timeout time.Duration) ([]byte, error)

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// MessageHandler processes incoming messages. For request/reply, return
// data to send as the response; return nil for no response.
type MessageHandler func(msg *Message) []byte

// Message is an incoming message from the bus.
type Message struct {
	Subject string
	Data    []byte
	ReplyTo string // set if the sender expects a response
}

// Subscription is an active subscription that can be cancelled.
type Subscription interface {
	// Unsubscribe stops receiving messages and cleans up resources.
	Unsubscribe() error

	// Subject returns the subject pattern this subscription is for.
	Subject() string
}

// Config holds configuration for creating a MessageBus.
type Config struct {
	// URL is the NATS server URL. Ignored for the in-memory bus.
	URL string

	// Name is a client identifier for debugging/monitoring.
	Name string

	// Timeout is the default timeout for operations.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:     "nats://localhost:4222",
		Name:    "wheelhouse",
		Timeout: 30 * time.Second,
	}
}
