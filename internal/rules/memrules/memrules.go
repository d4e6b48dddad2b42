// Package memrules is an in-memory fallback implementation of rules.Engine,
// used in tests and when no NATS deployment is configured. Pattern matching
// mirrors natsrules' subject-translation scheme without touching a broker.
package memrules

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/gateway/internal/rules"
)

type subscriber struct {
	pattern string
	onEvent func(*rules.Event)
}

// Engine is the in-memory Rule Engine reference adapter.
type Engine struct {
	mu    sync.RWMutex
	facts map[string]interface{}

	subMu sync.Mutex
	subs  map[string]*subscriber
}

// New creates an empty in-memory rule engine.
func New() *Engine {
	return &Engine{
		facts: make(map[string]interface{}),
		subs:  make(map[string]*subscriber),
	}
}

func (e *Engine) Emit(ctx context.Context, topic string, data map[string]interface{}, correlationID, causationID string) (*rules.Event, error) {
	ev := &rules.Event{
		Topic:         topic,
		Data:          data,
		CorrelationID: correlationID,
		CausationID:   causationID,
		Timestamp:     time.Now().UnixMilli(),
	}
	e.subMu.Lock()
	matched := make([]*subscriber, 0)
	for _, sub := range e.subs {
		if topicMatch(sub.pattern, topic) {
			matched = append(matched, sub)
		}
	}
	e.subMu.Unlock()
	for _, sub := range matched {
		sub.onEvent(ev)
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
	e.subMu.Lock()
	nSubs := len(e.subs)
	e.subMu.Unlock()
	return map[string]interface{}{"facts": nFacts, "subscriptions": nSubs}, nil
}

func (e *Engine) Subscribe(ctx context.Context, pattern string, onEvent func(*rules.Event)) (*rules.Subscription, error) {
	id := uuid.NewString()
	e.subMu.Lock()
	e.subs[id] = &subscriber{pattern: pattern, onEvent: onEvent}
	e.subMu.Unlock()
	cancel := func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
	return &rules.Subscription{ID: id, Cancel: cancel}, nil
}

func (e *Engine) Health(ctx context.Context) bool {
	return true
}

// topicMatch matches a "."-separated topic against a pattern where "*"
// matches exactly one segment.
func topicMatch(pattern, topic string) bool {
	return segmentMatch(strings.Split(pattern, "."), strings.Split(topic, "."))
}

// factMatch matches a ":"-separated fact key against a pattern where "*"
// matches exactly one segment.
func factMatch(pattern, key string) bool {
	return segmentMatch(strings.Split(pattern, ":"), strings.Split(key, ":"))
}

func segmentMatch(pattern, actual []string) bool {
	if len(pattern) != len(actual) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != actual[i] {
			return false
		}
	}
	return true
}
