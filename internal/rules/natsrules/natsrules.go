// Package natsrules is the reference Rule Engine adapter backed by NATS
// (spec §2b domain stack): emit publishes to a subject derived from the
// topic, and Subscribe maps a topic pattern to a NATS subject subscription.
// Facts have no natural NATS analogue (they are keyed, queryable state, not
// a stream) so they are kept in a local guarded map, mirroring memrules.
package natsrules

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/rules"
)

// Engine adapts a *nats.Conn to rules.Engine.
type Engine struct {
	nc *nats.Conn

	mu    sync.RWMutex
	facts map[string]interface{}
}

// New wraps an already-connected NATS client.
func New(nc *nats.Conn) *Engine {
	return &Engine{nc: nc, facts: make(map[string]interface{})}
}

// subject translates a "."-separated topic pattern into a NATS subject:
// "*" segments map one-to-one onto NATS' own single-token wildcard, so no
// translation is actually required beyond the type change.
func subject(topic string) string {
	return topic
}

func (e *Engine) Emit(ctx context.Context, topic string, data map[string]interface{}, correlationID, causationID string) (*rules.Event, error) {
	ev := &rules.Event{
		Topic:         topic,
		Data:          data,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Timestamp:     time.Now().UnixMilli(),
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	if err := e.nc.Publish(subject(topic), payload); err != nil {
		logger.Rules().Error().Err(err).Str("topic", topic).Msg("failed to publish event")
		return nil, err
	}
	return ev, nil
}

func (e *Engine) SetFact(ctx context.Context, key string, value interface{}) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.facts[key] = value
	return nil
}

func (e *Engine) GetFact(ctx context.Context, key string) (interface{}, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.facts[key]
	return v, ok, nil
}

func (e *Engine) DeleteFact(ctx context.Context, key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.facts[key]
	delete(e.facts, key)
	return ok, nil
}

func (e *Engine) QueryFacts(ctx context.Context, pattern string) (map[string]interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]interface{})
	for k, v := range e.facts {
		if factMatch(pattern, k) {
			out[k] = v
		}
	}
	return out, nil
}

func (e *Engine) GetAllFacts(ctx context.Context) (map[string]interface{}, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]interface{}, len(e.facts))
	for k, v := range e.facts {
		out[k] = v
	}
	return out, nil
}

func (e *Engine) Stats(ctx context.Context) (map[string]interface{}, error) {
	e.mu.RLock()
	nFacts := len(e.facts)
	e.mu.RUnlock()
	stats := e.nc.Stats()
	return map[string]interface{}{
		"facts":        nFacts,
		"inMsgs":       stats.InMsgs,
		"outMsgs":      stats.OutMsgs,
		"reconnects":   stats.Reconnects,
		"connected":    e.nc.IsConnected(),
	}, nil
}

func (e *Engine) Subscribe(ctx context.Context, pattern string, onEvent func(*rules.Event)) (*rules.Subscription, error) {
	sub, err := e.nc.Subscribe(subject(pattern), func(msg *nats.Msg) {
		var ev rules.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			logger.Rules().Warn().Err(err).Str("pattern", pattern).Msg("failed to decode event")
			return
		}
		onEvent(&ev)
	})
	if err != nil {
		return nil, err
	}
	cancel := func() {
		_ = sub.Unsubscribe()
	}
	return &rules.Subscription{ID: uuid.NewString(), Cancel: cancel}, nil
}

func (e *Engine) Health(ctx context.Context) bool {
	return e.nc != nil && e.nc.IsConnected()
}

func factMatch(pattern, key string) bool {
	p := strings.Split(pattern, ":")
	k := strings.Split(key, ":")
	if len(p) != len(k) {
		return false
	}
	for i, seg := range p {
		if seg != "*" && seg != k[i] {
			return false
		}
	}
	return true
}
