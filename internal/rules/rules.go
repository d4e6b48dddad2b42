// Package rules defines the interface the gateway core consumes from the
// optional Rule Engine collaborator (spec §6): topic events and keyed facts
// with pattern subscriptions. internal/rules/memrules ships an in-memory
// fallback; internal/rules/natsrules ships a NATS-backed reference adapter.
package rules

import "context"

// Event is the full envelope produced by emit, delivered verbatim to event
// subscribers.
type Event struct {
	Topic         string                 `json:"topic"`
	Data          map[string]interface{} `json:"data"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	CausationID   string                 `json:"causationId,omitempty"`
	Timestamp     int64                  `json:"timestamp"`
}

// Subscription is a live pattern registration. Patterns use "." as segment
// separator and "*" as a single-segment wildcard for topics; fact patterns
// use ":" as segment separator.
type Subscription struct {
	ID     string
	Cancel func()
}

// Engine is the interface the gateway core consumes. Implementations must
// be safe for concurrent use.
type Engine interface {
	Emit(ctx context.Context, topic string, data map[string]interface{}, correlationID, causationID string) (*Event, error)

	SetFact(ctx context.Context, key string, value interface{}) error
	GetFact(ctx context.Context, key string) (interface{}, bool, error)
	DeleteFact(ctx context.Context, key string) (bool, error)
	QueryFacts(ctx context.Context, pattern string) (map[string]interface{}, error)
	GetAllFacts(ctx context.Context) (map[string]interface{}, error)
	Stats(ctx context.Context) (map[string]interface{}, error)

	Subscribe(ctx context.Context, pattern string, onEvent func(*Event)) (*Subscription, error)

	Health(ctx context.Context) bool
}
