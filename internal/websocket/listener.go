package websocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/relaygate/gateway/internal/audit"
	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/config"
	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/middleware"
	"github.com/relaygate/gateway/internal/ratelimit"
	"github.com/relaygate/gateway/internal/registry"
	"github.com/relaygate/gateway/internal/subscription"
	"github.com/relaygate/gateway/internal/validator"
)

// shutdownBroadcastBuffer bounds the best-effort fan-out buffer used to wake
// every connection's select loop with the shutdown system frame (spec
// §4.8). A send that does not fit is simply skipped: that connection still
// tears down at the grace deadline via ctx cancellation, just without the
// advance warning frame.
const shutdownBroadcastBuffer = 4096

// Gateway is the Listener & Upgrader of spec §4.1/§4.8: it owns the gin
// HTTP surface (the WS upgrade route plus /healthz and /stats), the shared
// collaborators every Connection is constructed with, and the Shutdown
// Coordinator sequencing graceful drain.
//
// This is the composition root the teacher's cmd/main.go assembles by hand;
// here it is generalized into a reusable type so cmd/gateway/main.go stays a
// thin wiring shim.
type Gateway struct {
	cfg         *config.Config
	registry    *registry.Registry
	subs        *subscription.Manager
	limiter     *ratelimit.Limiter
	router      *Router
	auditLogger *audit.Logger

	upgrader    websocket.Upgrader
	httpLimiter *middleware.RateLimiter
	engine      *gin.Engine
	httpServer  *http.Server

	connsMu sync.RWMutex
	conns   map[string]*Connection
	perIP   map[string]int

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan int64
	shutdownOnce sync.Once

	acceptingMu sync.RWMutex
	accepting   bool
}

// NewGateway constructs a Gateway bound to cfg. The returned Gateway is not
// yet serving; call ListenAndServe.
func NewGateway(cfg *config.Config, auditLogger *audit.Logger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		cfg:         cfg,
		registry:    registry.New(),
		limiter:     ratelimit.New(ratelimit.Config{MaxRequests: cfg.RateLimit.MaxRequests, Window: cfg.RateLimit.Window, Store: redisStoreOrNil(cfg)}),
		auditLogger: auditLogger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOriginFunc(cfg.AllowedOrigins),
		},
		httpLimiter: middleware.NewRateLimiter(20, 40),
		conns:       make(map[string]*Connection),
		perIP:       make(map[string]int),
		ctx:         ctx,
		cancel:      cancel,
		shutdownCh:  make(chan int64, shutdownBroadcastBuffer),
		accepting:   true,
	}
	g.subs = subscription.New(cfg.ConnectionLimits.MaxSubscriptionsPerConnection, g.deliver)
	g.router = NewRouter(cfg, auditLogger)
	g.engine = g.buildEngine()
	g.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, itoa(int64(cfg.Port))),
		Handler: g.engine,
	}
	return g
}

func redisStoreOrNil(cfg *config.Config) ratelimit.Store {
	if cfg.RateLimit.Redis == nil {
		return nil
	}
	return ratelimit.NewRedisStore(cfg.RateLimit.Redis)
}

// checkOriginFunc builds the upgrader's Origin check from the configured
// allow-list. A nil/empty list allows any origin (spec §6 default).
func checkOriginFunc(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

// buildEngine assembles the gin HTTP surface: the teacher's ambient
// middleware chain (request id, structured logging, security headers, size
// limit, timeout, panic recovery) fronting the WS upgrade route and the
// /healthz, /stats introspection mirrors of server.stats.
func (g *Gateway) buildEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	securityHeaders := middleware.SecurityHeaders()
	if g.cfg.DevMode {
		securityHeaders = middleware.SecurityHeadersRelaxed()
	}
	timeoutCfg := middleware.DefaultTimeoutConfig()
	timeoutCfg.ExcludedPaths = []string{g.cfg.Path}
	r.Use(
		middleware.RequestID(),
		middleware.StructuredLogger(),
		apperrors.Recovery(*logger.HTTP()),
		securityHeaders,
		middleware.DefaultSizeLimiter(),
		middleware.Timeout(timeoutCfg),
		g.httpLimiter.Middleware(),
	)

	r.GET("/healthz", g.handleHealthz)
	r.GET("/stats", g.handleStats)
	r.POST("/admin/bootstrap", g.httpLimiter.StrictMiddleware(middleware.DefaultMaxAttempts), g.handleBootstrapAdmin)
	r.GET(g.cfg.Path, g.handleUpgrade)
	return r
}

func (g *Gateway) handleHealthz(c *gin.Context) {
	storeHealthy := g.cfg.Store != nil && g.cfg.Store.Health(c.Request.Context())
	if !storeHealthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (g *Gateway) handleStats(c *gin.Context) {
	storeHealthy := g.cfg.Store != nil && g.cfg.Store.Health(c.Request.Context())
	rulesConfigured := g.cfg.Rules != nil
	rulesHealthy := rulesConfigured && g.cfg.Rules.Health(c.Request.Context())
	c.JSON(http.StatusOK, g.registry.Stats(storeHealthy, rulesConfigured, rulesHealthy))
}

// bootstrapAdminRequest is the one-time request to mint the first admin
// account, gated by GATEWAY_BOOTSTRAP_ADMIN_SECRET rather than by an
// existing session (there is no existing admin yet to authorize it).
type bootstrapAdminRequest struct {
	Secret   string `json:"secret" validate:"required"`
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,password"`
}

// handleBootstrapAdmin creates (or promotes) the first admin account and
// returns a long-lived API token for it (shown once). Disabled entirely
// when no built-in user store is configured or no bootstrap secret was set.
func (g *Gateway) handleBootstrapAdmin(c *gin.Context) {
	if g.cfg.Auth.BuiltIn == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "BUILTIN_AUTH_NOT_CONFIGURED"})
		return
	}

	var req bootstrapAdminRequest
	if !validator.BindAndValidate(c, &req) {
		return
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL_ERROR"})
		return
	}

	user, apiToken, err := g.cfg.Auth.BuiltIn.BootstrapAdmin(req.Secret, req.Username, passwordHash)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"userId": user.UserID, "roles": user.Roles, "apiToken": apiToken})
}

func (g *Gateway) handleUpgrade(c *gin.Context) {
	g.acceptingMu.RLock()
	accepting := g.accepting
	g.acceptingMu.RUnlock()
	if !accepting {
		if conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil); err == nil {
			msg := websocket.FormatCloseMessage(CloseShuttingDown, ReasonServerShuttingDown)
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(2*time.Second))
			_ = conn.Close()
		}
		return
	}

	remoteIPAddr := remoteIP(c.Request.RemoteAddr)
	if g.cfg.MaxConnectionsPerIP > 0 && !g.reserveIPSlot(remoteIPAddr) {
		c.JSON(http.StatusTooManyRequests, gin.H{"code": "TOO_MANY_CONNECTIONS"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.releaseIPSlot(remoteIPAddr)
		logger.Connection().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	actor := NewConnection(conn, c.Request.RemoteAddr, g.cfg, g.registry, g.subs, g.limiter, g.router)
	g.addConn(actor)
	defer func() {
		g.removeConn(actor.ID())
		g.releaseIPSlot(remoteIPAddr)
	}()
	actor.Run(g.ctx, g.shutdownCh)
}

func (g *Gateway) reserveIPSlot(ip string) bool {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if g.perIP[ip] >= g.cfg.MaxConnectionsPerIP {
		return false
	}
	g.perIP[ip]++
	return true
}

func (g *Gateway) releaseIPSlot(ip string) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	if g.perIP[ip] > 0 {
		g.perIP[ip]--
		if g.perIP[ip] == 0 {
			delete(g.perIP, ip)
		}
	}
}

func (g *Gateway) addConn(c *Connection) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	g.conns[c.ID()] = c
}

func (g *Gateway) removeConn(id string) {
	g.connsMu.Lock()
	defer g.connsMu.Unlock()
	delete(g.conns, id)
}

// deliver is the subscription.Deliver callback wired into the Subscription
// Manager: it looks up the owning Connection by id and hands it the push,
// dropping silently if the connection has already torn down (the Manager's
// TeardownConnection cancellation and this lookup can race harmlessly).
func (g *Gateway) deliver(connID string, push subscription.Push) {
	g.connsMu.RLock()
	c, ok := g.conns[connID]
	g.connsMu.RUnlock()
	if !ok {
		return
	}
	c.Deliver(push)
}

// ListenAndServe starts the HTTP/WS listener and blocks until it returns
// (on Shutdown or a listener-level error).
func (g *Gateway) ListenAndServe() error {
	logger.HTTP().Info().Str("addr", g.httpServer.Addr).Str("path", g.cfg.Path).Msg("gateway listening")
	err := g.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown implements the Shutdown Coordinator of spec §4.8: stop accepting
// new connections, broadcast the shutdown system frame (when grace > 0),
// wait for the earliest of every connection closing or the grace period
// elapsing, then force-close anything left with code 1000 and stop serving.
// Idempotent: a second call is a no-op.
func (g *Gateway) Shutdown(grace time.Duration) {
	g.shutdownOnce.Do(func() {
		g.acceptingMu.Lock()
		g.accepting = false
		g.acceptingMu.Unlock()

		if grace > 0 {
			g.broadcastShutdown(grace.Milliseconds())
		}

		deadline := time.NewTimer(grace)
		defer deadline.Stop()
		poll := time.NewTicker(50 * time.Millisecond)
		defer poll.Stop()

	wait:
		for {
			select {
			case <-deadline.C:
				break wait
			case <-poll.C:
				if g.registry.Count() == 0 {
					break wait
				}
			}
		}

		g.cancel() // force-closes any Connection still in its select loop (code 1000, spec §4.8)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = g.httpServer.Shutdown(shutdownCtx)
	})
}

// broadcastShutdown is a best-effort fan-out: it enqueues one grace-period
// value per currently live connection onto the shared shutdown channel.
// Connections racing to connect or disconnect around this call may miss the
// advance-warning frame; they still tear down correctly at the grace
// deadline via context cancellation.
func (g *Gateway) broadcastShutdown(graceMs int64) {
	n := g.registry.Count()
	for i := 0; i < n; i++ {
		select {
		case g.shutdownCh <- graceMs:
		default:
			return
		}
	}
}
