// Command gateway is the relaygate entrypoint: it assembles a Config from
// the environment, wires the Store/Rule Engine/Auth collaborators, and
// serves the WebSocket gateway until an OS signal requests a graceful
// shutdown (spec §4.8).
package main

import (
	"database/sql"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/relaygate/gateway/internal/audit"
	"github.com/relaygate/gateway/internal/auth"
	"github.com/relaygate/gateway/internal/cache"
	"github.com/relaygate/gateway/internal/config"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/permissions"
	"github.com/relaygate/gateway/internal/rules"
	"github.com/relaygate/gateway/internal/rules/memrules"
	"github.com/relaygate/gateway/internal/rules/natsrules"
	"github.com/relaygate/gateway/internal/store/memstore"
	"github.com/relaygate/gateway/internal/websocket"
)

func main() {
	cfg := config.ConfigFromEnv()
	logger.Initialize(cfg.Logging.Level, cfg.Logging.Pretty)

	cfg.Store = memstore.New()
	cfg.Rules = buildRuleEngine()
	cfg.Auth.Permissions = &permissions.Evaluator{Default: permissions.DefaultAllow}

	if secret := os.Getenv("GATEWAY_BOOTSTRAP_ADMIN_SECRET"); secret != "" {
		builtin, err := auth.NewBuiltinUserStore(secret)
		if err != nil {
			logger.HTTP().Fatal().Err(err).Msg("failed to initialize built-in user store")
		}
		cfg.Auth.BuiltIn = builtin
	}

	if jwtSecret := os.Getenv("GATEWAY_JWT_SECRET"); jwtSecret != "" {
		jwtManager := buildJWTManager(jwtSecret)
		cfg.Auth.Validate = auth.JWTValidator(jwtManager)
		cfg.Auth.Sessions = jwtManager
	}

	if redisAddr := os.Getenv("GATEWAY_RATELIMIT_REDIS_ADDR"); redisAddr != "" {
		cfg.RateLimit.Redis = redis.NewClient(&redis.Options{Addr: redisAddr})
	}

	if err := cfg.Validate(); err != nil {
		logger.HTTP().Fatal().Err(err).Msg("invalid configuration")
	}

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		db, err := sql.Open("postgres", cfg.Audit.DSN)
		if err != nil {
			logger.Audit().Fatal().Err(err).Msg("failed to open audit database")
		}
		auditLogger = audit.New(audit.Config{DB: db, QueueSize: cfg.Audit.QueueSize, SensitiveFields: cfg.Audit.SensitiveFields})
		defer auditLogger.Close()
	}

	gateway := websocket.NewGateway(cfg, auditLogger)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- gateway.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		if err != nil {
			logger.HTTP().Fatal().Err(err).Msg("gateway listener failed")
		}
	case sig := <-sigCh:
		logger.HTTP().Info().Str("signal", sig.String()).Msg("shutdown requested")
		gateway.Shutdown(shutdownGrace())
		<-serveErrCh
	}
}

// buildRuleEngine selects the Rule Engine backend: NATS when GATEWAY_NATS_URL
// is set, the in-memory reference adapter otherwise. A connection failure to
// a configured NATS server is fatal rather than silently falling back, since
// that would mask a misconfiguration in production.
func buildRuleEngine() rules.Engine {
	url := os.Getenv("GATEWAY_NATS_URL")
	if url == "" {
		return memrules.New()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		logger.Rules().Fatal().Err(err).Str("url", url).Msg("failed to connect to NATS")
	}
	return natsrules.New(nc)
}

// buildJWTManager wires a JWTManager, attaching a Redis-backed session
// store (for server-side logout/revocation) when GATEWAY_SESSION_REDIS_ADDR
// is set, and leaving session tracking disabled otherwise.
func buildJWTManager(secret string) *auth.JWTManager {
	cfg := &auth.JWTConfig{SecretKey: secret}
	if v := os.Getenv("GATEWAY_JWT_ISSUER"); v != "" {
		cfg.Issuer = v
	}
	if v := os.Getenv("GATEWAY_JWT_TOKEN_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TokenDuration = d
		}
	}

	redisAddr := os.Getenv("GATEWAY_SESSION_REDIS_ADDR")
	if redisAddr == "" {
		return auth.NewJWTManager(cfg)
	}
	host, port, err := net.SplitHostPort(redisAddr)
	if err != nil {
		logger.Security().Warn().Err(err).Str("addr", redisAddr).Msg("invalid session redis address, continuing without session tracking")
		return auth.NewJWTManager(cfg)
	}

	sessionCache, err := cache.NewCache(cache.Config{
		Host:    host,
		Port:    port,
		Enabled: true,
	})
	if err != nil {
		logger.Security().Warn().Err(err).Msg("session cache unavailable, continuing without session tracking")
		return auth.NewJWTManager(cfg)
	}
	return auth.NewJWTManagerWithSessions(cfg, sessionCache)
}

func shutdownGrace() time.Duration {
	if v := os.Getenv("GATEWAY_SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 10 * time.Second
}
