// Package websocket owns one Connection Actor per accepted WebSocket (spec
// §4.2), the Listener/Upgrader that produces them (spec §4.1/Listener), and
// the Request Router dispatching parsed requests to store/rules/auth/
// server/procedures handlers.
//
// Each Connection runs a single goroutine select loop over three input
// sources -- inbound frames (fed by a reader goroutine), inbound
// subscription pushes (fed by the Subscription Manager), and control
// signals (heartbeat tick, shutdown, session expiry) -- so every state
// transition inside one connection is total-ordered by construction. This
// generalizes the teacher's Hub/Client readPump+writePump+ticker pattern
// (internal/websocket/hub.go in the original) from an org-scoped broadcast
// hub to a per-connection protocol machine with request/response
// correlation and per-subscription fan-out.
package websocket

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/protocol"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/session"
	"github.com/relaygate/gateway/internal/subscription"
)

// Close codes and reasons, spec §6.
const (
	CloseNormal             = 1000
	CloseServerShutdown     = 1000
	CloseShuttingDown       = 1001
	CloseHeartbeatTimeout   = 4001
	ReasonNormalClosure     = "normal_closure"
	ReasonServerShutdown    = "server_shutdown"
	ReasonServerShuttingDown = "server_shutting_down"
	ReasonHeartbeatTimeout  = "heartbeat_timeout"
)

// outboundBufferSize mirrors the teacher's 256-message buffered send
// channel -- the in-process half of the backpressure gate; the byte-size
// half is the maxBufferedBytes*highWaterMark check applied before a push
// is pushed onto this channel at all (spec §4.6).
const outboundBufferSize = 256

var connIDSeq int64

// Connection is the actor owning one accepted WebSocket.
type Connection struct {
	id         string
	conn       *websocket.Conn
	remoteAddr string
	connectedAt time.Time

	cfg      *config.Config
	registry *registry.Registry
	subs     *subscription.Manager
	limiter  *ratelimit.Limiter
	router   *Router

	session      *session.Session
	rateLimitKey string

	send      chan []byte
	pushes    chan subscription.Push
	done      chan struct{}
	closeOnce sync.Once

	pendingBytes int64 // approximate outbound buffered bytes, for backpressure

	lastPingAt time.Time
	lastPongAt time.Time
	pingSent   bool
}

// NewConnectionID returns a fresh, monotonic connection id.
func NewConnectionID() string {
	n := atomic.AddInt64(&connIDSeq, 1)
	return "conn-" + itoa(n)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// NewConnection constructs a Connection actor. The caller (the Listener)
// must call Run after construction; Run blocks until the connection tears
// down for any reason.
func NewConnection(conn *websocket.Conn, remoteAddr string, cfg *config.Config, reg *registry.Registry, subs *subscription.Manager, limiter *ratelimit.Limiter, router *Router) *Connection {
	return &Connection{
		id:          NewConnectionID(),
		conn:        conn,
		remoteAddr:  remoteAddr,
		connectedAt: time.Now(),
		cfg:         cfg,
		registry:    reg,
		subs:        subs,
		limiter:     limiter,
		router:      router,
		rateLimitKey: "ip:" + remoteAddr,
		send:        make(chan []byte, outboundBufferSize),
		pushes:      make(chan subscription.Push, outboundBufferSize),
		done:        make(chan struct{}),
	}
}

// ID returns the connection's id.
func (c *Connection) ID() string { return c.id }

// Deliver is the subscription.Deliver callback the gateway wires to this
// connection's Subscription Manager registrations. It never blocks the
// subscription manager: a full outbound channel means the connection is
// shutting down or is far enough behind that dropping is already the
// backpressure policy.
func (c *Connection) Deliver(push subscription.Push) {
	select {
	case c.pushes <- push:
	case <-c.done:
	default:
	}
}

// Run registers the connection, sends welcome, starts the heartbeat, and
// enters the message loop. It returns once the connection has fully torn
// down (subscriptions cancelled, registry cleared, socket closed).
func (c *Connection) Run(ctx context.Context, shutdownCh <-chan int64) {
	c.registry.Add(registry.Entry{
		ID:              c.id,
		Address:         c.remoteAddr,
		ConnectedAtUnix: c.connectedAt.Unix(),
	})
	logger.Connection().Info().Str("connID", c.id).Str("addr", c.remoteAddr).Msg("connection accepted")

	c.conn.SetReadLimit(c.cfg.MaxPayloadBytes)
	welcome := protocol.Welcome(time.Now().UnixMilli(), c.cfg.RequiresAuth())
	atomic.AddInt64(&c.pendingBytes, int64(len(welcome)))
	c.send <- welcome

	frames := make(chan []byte, 64)
	readerDone := make(chan struct{})
	go c.readPump(frames, readerDone)

	writerDone := make(chan struct{})
	go c.writePump(writerDone)

	ticker := time.NewTicker(c.cfg.Heartbeat.Interval)
	defer ticker.Stop()

	closeCode, closeReason := CloseNormal, ReasonNormalClosure

loop:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				break loop
			}
			c.handleFrame(ctx, frame)

		case push := <-c.pushes:
			c.handlePush(push)

		case <-ticker.C:
			if code, reason, shouldClose := c.onHeartbeatTick(); shouldClose {
				closeCode, closeReason = code, reason
				break loop
			}

		case grace := <-shutdownCh:
			c.enqueue(protocol.Shutdown(grace))

		case <-ctx.Done():
			closeCode, closeReason = CloseServerShutdown, ReasonServerShutdown
			break loop
		}
	}

	c.teardown(closeCode, closeReason)
	<-readerDone
	close(c.send)
	<-writerDone
}

func (c *Connection) teardown(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.subs.TeardownConnection(c.id)
	c.registry.Remove(c.id)
	deadline := time.Now().Add(2 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = c.conn.Close()
	logger.Connection().Info().Str("connID", c.id).Int("code", code).Str("reason", reason).Msg("connection closed")
}

// enqueue writes a frame (result/error/welcome/system) directly, bypassing
// the backpressure gate: request/response and system frames are never
// dropped (spec §4.6). It still accounts its bytes against pendingBytes so
// writePump's unconditional decrement stays balanced and handlePush's
// high-water check reflects all outstanding buffered output, not just pushes.
func (c *Connection) enqueue(frame []byte) {
	atomic.AddInt64(&c.pendingBytes, int64(len(frame)))
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// handlePush applies the backpressure gate before enqueuing a push frame.
// Above the high-water mark the push is dropped silently: no error, no
// client notification (spec §4.6). Reactive queries converge, so the next
// change delivers full current state regardless.
func (c *Connection) handlePush(push subscription.Push) {
	threshold := float64(c.cfg.Backpressure.MaxBufferedBytes) * c.cfg.Backpressure.HighWaterMark
	if float64(atomic.LoadInt64(&c.pendingBytes)) >= threshold {
		logger.Connection().Debug().Str("connID", c.id).Str("subscriptionId", push.SubscriptionID).Msg("backpressure: dropping push")
		return
	}
	frame := protocol.Push(push.Channel, push.SubscriptionID, push.Data)
	atomic.AddInt64(&c.pendingBytes, int64(len(frame)))
	select {
	case c.send <- frame:
	case <-c.done:
	}
}

// onHeartbeatTick implements spec §4.5: close on a missed pong, otherwise
// send a fresh ping.
func (c *Connection) onHeartbeatTick() (code int, reason string, shouldClose bool) {
	if c.pingSent && c.lastPongAt.Before(c.lastPingAt) {
		return CloseHeartbeatTimeout, ReasonHeartbeatTimeout, true
	}
	c.lastPingAt = time.Now()
	c.pingSent = true
	c.enqueue(protocol.Ping(c.lastPingAt.UnixMilli()))
	return 0, "", false
}

func (c *Connection) handleFrame(ctx context.Context, raw []byte) {
	res := protocol.Parse(raw)
	switch {
	case res.Pong != nil:
		c.lastPongAt = time.Now()
		return
	case res.Err != nil:
		c.enqueue(protocol.Error(res.ErrID, res.Err, c.cfg.ExposeErrorDetails))
		return
	}

	req := res.Request
	data, rerr := c.router.Dispatch(ctx, c, req)
	if rerr != nil {
		c.enqueue(protocol.Error(req.ID, rerr, c.cfg.ExposeErrorDetails))
		return
	}
	c.enqueue(protocol.Result(req.ID, data))
}

func (c *Connection) readPump(frames chan<- []byte, done chan<- struct{}) {
	defer close(done)
	defer close(frames)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case frames <- raw:
		case <-c.done:
			return
		}
	}
}

func (c *Connection) writePump(done chan<- struct{}) {
	defer close(done)
	for frame := range c.send {
		atomic.AddInt64(&c.pendingBytes, -int64(len(frame)))
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// Session returns the connection's current session, or nil.
func (c *Connection) Session() *session.Session { return c.session }

// SetSession installs a new session and flips the rate-limit key from IP to
// user id (spec §4.4, §5): pre-login counts are never migrated.
func (c *Connection) SetSession(s *session.Session) {
	c.session = s
	if s != nil {
		c.rateLimitKey = "user:" + s.UserID
		c.registry.Update(c.id, func(e *registry.Entry) {
			e.Authenticated = true
			e.UserID = s.UserID
		})
	}
}

// ClearSession logs the connection out (explicit logout or expiry).
func (c *Connection) ClearSession() {
	c.session = nil
	c.rateLimitKey = "ip:" + c.remoteAddr
	c.registry.Update(c.id, func(e *registry.Entry) {
		e.Authenticated = false
		e.UserID = ""
	})
}

// RateLimitKey returns the current rate-limit bucket key.
func (c *Connection) RateLimitKey() string { return c.rateLimitKey }

// RemoteAddr returns the connection's remote address.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// OnSubscriptionCountChanged updates the registry's per-connection
// subscription counts, called after every subscribe/unsubscribe.
func (c *Connection) OnSubscriptionCountChanged() {
	storeSubs, rulesSubs := c.subs.CountByKind(c.id)
	c.registry.Update(c.id, func(e *registry.Entry) {
		e.StoreSubs = storeSubs
		e.RulesSubs = rulesSubs
	})
}

// remoteIP extracts the bare IP from a net.Addr-formatted address string.
func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
