// Package subscription implements the Subscription Manager of spec §4.3:
// registration/unregistration against the Store and Rule Engine
// collaborators, fan-out of change notifications to the owning
// connection's outbound path, deep-equality dedup for query pushes, and
// the per-connection subscription ceiling.
//
// Pushes of both kinds pass through the owning connection's backpressure
// gate, which drops them silently above the high-water mark and never
// redelivers them. For event subscriptions this makes delivery at-most-once.
//
// Modeled as a plain struct with a cancel closure (spec §9 design note)
// rather than a type hierarchy over "kinds" of subscription, mirroring the
// teacher's preference for plain structs (AgentConnection, BroadcastMessage)
// over interface hierarchies.
package subscription

import (
	"context"
	"sync"

	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/rules"
	"github.com/relaygate/gateway/internal/store"
)

// Kind distinguishes a query subscription (deduped) from an event
// subscription (not deduped).
type Kind int

const (
	KindQuery Kind = iota
	KindEvent
)

// Push is a single outbound notification handed to the owning connection.
type Push struct {
	Channel        string // "subscription" | "event"
	SubscriptionID string
	Data           interface{}
}

// entry is one live subscription.
type entry struct {
	id         string
	connID     string
	kind       Kind
	cancel     func()
	lastValue  interface{}
	hasLast    bool
}

// Deliver is invoked by the Manager for every push; the Connection Actor
// supplies this to route pushes onto its own serial outbound path (and to
// apply the backpressure gate before the socket write).
type Deliver func(connID string, push Push)

// Manager is the single process-wide Subscription Manager.
type Manager struct {
	maxPerConnection int
	deliver          Deliver

	mu          sync.Mutex
	byID        map[string]*entry
	byConn      map[string]map[string]bool
}

// New constructs a Manager. maxPerConnection <= 0 means no cap is supplied
// by the caller; the gateway config always supplies a positive default
// (100, per spec §6).
func New(maxPerConnection int, deliver Deliver) *Manager {
	return &Manager{
		maxPerConnection: maxPerConnection,
		deliver:          deliver,
		byID:             make(map[string]*entry),
		byConn:           make(map[string]map[string]bool),
	}
}

// connCountLocked returns the number of live subscriptions owned by connID. Must
// be called with m.mu held.
func (m *Manager) connCountLocked(connID string) int {
	return len(m.byConn[connID])
}

// SubscribeQuery registers a reactive-query subscription against the Store.
// Source registration and registry insert happen before the initial value
// is returned, satisfying the atomicity requirement of spec §4.3.
func (m *Manager) SubscribeQuery(connID string, st store.Store, queryName string, params map[string]interface{}) (string, interface{}, error) {
	m.mu.Lock()
	if m.maxPerConnection > 0 && m.connCountLocked(connID) >= m.maxPerConnection {
		m.mu.Unlock()
		return "", nil, apperrors.RateLimited("subscription limit reached for this connection", 0)
	}
	m.mu.Unlock()

	e := &entry{connID: connID, kind: KindQuery}
	sub, value, err := st.SubscribeQuery(context.Background(), queryName, params, func(newValue interface{}) {
		m.onQueryChange(e.id, newValue)
	})
	if err != nil {
		return "", nil, err
	}
	e.id = sub.ID
	e.cancel = sub.Cancel
	e.lastValue = value
	e.hasLast = true

	m.insert(e)
	return e.id, value, nil
}

// SubscribeEvent registers a topic-pattern subscription against the Rule
// Engine. Event subscriptions never dedupe (spec §4.3).
func (m *Manager) SubscribeEvent(connID string, engine rules.Engine, pattern string) (string, error) {
	m.mu.Lock()
	if m.maxPerConnection > 0 && m.connCountLocked(connID) >= m.maxPerConnection {
		m.mu.Unlock()
		return "", apperrors.RateLimited("subscription limit reached for this connection", 0)
	}
	m.mu.Unlock()

	e := &entry{connID: connID, kind: KindEvent}
	sub, err := engine.Subscribe(context.Background(), pattern, func(ev *rules.Event) {
		m.onEvent(e.id, ev, pattern)
	})
	if err != nil {
		return "", apperrors.InternalError(err)
	}
	e.id = sub.ID
	e.cancel = sub.Cancel

	m.insert(e)
	return e.id, nil
}

func (m *Manager) insert(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[e.id] = e
	if m.byConn[e.connID] == nil {
		m.byConn[e.connID] = make(map[string]bool)
	}
	m.byConn[e.connID][e.id] = true
}

// Unsubscribe cancels a subscription at its source and removes it from the
// registry. Idempotent at the connection level: a second call for the same
// id returns NotFound.
func (m *Manager) Unsubscribe(connID, subID string) error {
	m.mu.Lock()
	e, ok := m.byID[subID]
	if !ok || e.connID != connID {
		m.mu.Unlock()
		return apperrors.NotFound("subscription")
	}
	delete(m.byID, subID)
	delete(m.byConn[connID], subID)
	if len(m.byConn[connID]) == 0 {
		delete(m.byConn, connID)
	}
	m.mu.Unlock()

	e.cancel()
	return nil
}

// TeardownConnection cancels every subscription owned by connID exactly
// once, guaranteeing zero leaked source-side registrations on disconnect
// (spec §4.3 cleanup guarantee, testable property #3).
func (m *Manager) TeardownConnection(connID string) {
	m.mu.Lock()
	ids := m.byConn[connID]
	cancels := make([]func(), 0, len(ids))
	for id := range ids {
		if e, ok := m.byID[id]; ok {
			cancels = append(cancels, e.cancel)
			delete(m.byID, id)
		}
	}
	delete(m.byConn, connID)
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// Count returns the number of live subscriptions owned by connID.
func (m *Manager) Count(connID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connCountLocked(connID)
}

// CountByKind returns (queryCount, eventCount) for connID.
func (m *Manager) CountByKind(connID string) (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var q, ev int
	for id := range m.byConn[connID] {
		if e, ok := m.byID[id]; ok {
			if e.kind == KindQuery {
				q++
			} else {
				ev++
			}
		}
	}
	return q, ev
}

func (m *Manager) onQueryChange(subID string, newValue interface{}) {
	m.mu.Lock()
	e, ok := m.byID[subID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if e.hasLast && DeepEqual(e.lastValue, newValue) {
		m.mu.Unlock()
		return
	}
	e.lastValue = newValue
	e.hasLast = true
	connID := e.connID
	m.mu.Unlock()

	m.deliver(connID, Push{Channel: "subscription", SubscriptionID: subID, Data: newValue})
}

func (m *Manager) onEvent(subID string, ev *rules.Event, pattern string) {
	m.mu.Lock()
	e, ok := m.byID[subID]
	m.mu.Unlock()
	if !ok {
		return
	}
	data := map[string]interface{}{"topic": ev.Topic, "event": ev}
	m.deliver(e.connID, Push{Channel: "event", SubscriptionID: subID, Data: data})
}
