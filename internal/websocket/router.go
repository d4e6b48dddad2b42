package websocket

import (
	"context"
	"strings"
	"time"

	"github.com/relaygate/gateway/internal/audit"
	"github.com/relaygate/gateway/internal/config"
	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/permissions"
	"github.com/relaygate/gateway/internal/protocol"
	"github.com/relaygate/gateway/internal/session"
)

// Router implements the per-request pipeline of spec §4.2 steps 3-7: auth
// gate, rate limit, permission evaluation, routing by operation prefix, and
// dispatch. Envelope parsing (steps 1-2) happens upstream, in
// Connection.handleFrame, before Dispatch is ever called.
type Router struct {
	cfg         *config.Config
	auditLogger *audit.Logger
}

// NewRouter constructs a Router bound to cfg's Store/Rules/Auth/Permissions
// collaborators. auditLogger may be nil, in which case admin/write operations
// are simply not recorded.
func NewRouter(cfg *config.Config, auditLogger *audit.Logger) *Router {
	return &Router{cfg: cfg, auditLogger: auditLogger}
}

// Dispatch runs one parsed request through the full pipeline and returns
// either the response payload or a ProtocolError to serialize as an error
// frame. Handler-level panics are not recovered here and propagate to the
// caller, because the corpus's own handlers do not recover from
// programmer errors either, only HTTP middleware does (errors.Recovery).
func (r *Router) Dispatch(ctx context.Context, conn *Connection, req *protocol.Request) (interface{}, *apperrors.ProtocolError) {
	op := req.Type
	isAuthNamespace := strings.HasPrefix(op, "auth.")

	sess := conn.Session()
	if sess != nil && sess.Expired(time.Now()) {
		conn.ClearSession()
		sess = nil
		if r.cfg.Auth.Required && !isAuthNamespace {
			return nil, apperrors.Unauthorized("session expired")
		}
	}
	if r.cfg.Auth.Required && !isAuthNamespace && sess == nil {
		return nil, apperrors.Unauthorized("authentication required")
	}

	if decision := conn.limiter.Consume(ctx, conn.RateLimitKey()); !decision.Allowed {
		return nil, apperrors.RateLimited("rate limit exceeded", decision.RetryAfterMs)
	}

	tier := permissions.OperationTier(op)
	if built, ok := sess.HighestBuiltinTier(); ok && built < tier {
		return nil, apperrors.Forbidden("role tier does not permit " + op)
	}
	resource := permissions.ExtractResource(op, req.Payload)
	if !r.cfg.Auth.Permissions.Allow(sess, op, resource) {
		return nil, apperrors.Forbidden("not permitted: " + op)
	}

	start := time.Now()
	data, rerr := r.route(ctx, conn, op, req.Payload)
	r.recordAudit(conn, op, resource, req.Payload, rerr, start)
	return data, rerr
}

func (r *Router) route(ctx context.Context, conn *Connection, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	switch {
	case strings.HasPrefix(op, "store."):
		return r.dispatchStore(ctx, conn, op, payload)
	case strings.HasPrefix(op, "rules."):
		return r.dispatchRules(ctx, conn, op, payload)
	case strings.HasPrefix(op, "auth."):
		return r.dispatchAuth(ctx, conn, op, payload)
	case strings.HasPrefix(op, "server."):
		return r.dispatchServer(ctx, conn, op, payload)
	case strings.HasPrefix(op, "procedures."):
		return r.dispatchProcedures(ctx, op, payload)
	default:
		return nil, apperrors.UnknownOperation(op)
	}
}

// recordAudit records admin- and write-tier operations only; read-tier
// traffic (every get/all/subscribe/stats call) would dwarf the audit log
// with no compliance value (spec's ambient audit section, §4.2 step 7).
func (r *Router) recordAudit(conn *Connection, op, resource string, payload map[string]interface{}, rerr *apperrors.ProtocolError, start time.Time) {
	if r.auditLogger == nil {
		return
	}
	if permissions.OperationTier(op) == session.TierRead {
		return
	}
	outcome := audit.OutcomeSuccess
	errCode := ""
	if rerr != nil {
		outcome = audit.OutcomeError
		errCode = rerr.Code
	}
	userID := ""
	if sess := conn.Session(); sess != nil {
		userID = sess.UserID
	}
	r.auditLogger.Record(audit.Event{
		Timestamp:    time.Now(),
		ConnectionID: conn.ID(),
		UserID:       userID,
		Operation:    op,
		Resource:     resource,
		Outcome:      outcome,
		ErrorCode:    errCode,
		DurationMs:   time.Since(start).Milliseconds(),
		IPAddress:    conn.RemoteAddr(),
		Payload:      payload,
	})
}

// toProtoErr adapts a collaborator error into a ProtocolError. Store and
// Rules adapters in this tree already return *apperrors.ProtocolError
// directly; this only guards against a third-party Store/Engine
// implementation returning a plain error.
func toProtoErr(err error) *apperrors.ProtocolError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*apperrors.ProtocolError); ok {
		return pe
	}
	return apperrors.InternalError(err)
}

func requireString(payload map[string]interface{}, key string) (string, *apperrors.ProtocolError) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", apperrors.InvalidRequest("missing or invalid field \"" + key + "\"")
	}
	return v, nil
}

func optionalString(payload map[string]interface{}, key string) string {
	v, _ := payload[key].(string)
	return v
}

func optionalFilter(payload map[string]interface{}, key string) map[string]interface{} {
	v, _ := payload[key].(map[string]interface{})
	return v
}

func optionalData(payload map[string]interface{}) (map[string]interface{}, *apperrors.ProtocolError) {
	v, ok := payload["data"].(map[string]interface{})
	if !ok {
		return nil, apperrors.InvalidRequest("missing or invalid field \"data\"")
	}
	return v, nil
}

func requireInt(payload map[string]interface{}, key string) (int, *apperrors.ProtocolError) {
	v, ok := payload[key].(float64)
	if !ok {
		return 0, apperrors.InvalidRequest("missing or invalid field \"" + key + "\"")
	}
	return int(v), nil
}
