package websocket

import (
	"context"
	"time"

	"github.com/relaygate/gateway/internal/audit"
	apperrors "github.com/relaygate/gateway/internal/errors"
)

// dispatchServer handles the admin-tier server.* introspection operations
// (spec §4.7/§4.10): aggregate stats, the live connection snapshot, and an
// audit-trail read-back.
func (r *Router) dispatchServer(ctx context.Context, conn *Connection, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	switch op {
	case "server.stats":
		storeHealthy := r.cfg.Store != nil && r.cfg.Store.Health(ctx)
		rulesConfigured := r.cfg.Rules != nil
		rulesHealthy := rulesConfigured && r.cfg.Rules.Health(ctx)
		return conn.registry.Stats(storeHealthy, rulesConfigured, rulesHealthy), nil

	case "server.connections":
		return map[string]interface{}{"connections": conn.registry.Snapshot()}, nil

	case "server.audit":
		return r.serverAudit(ctx, payload)

	default:
		return nil, apperrors.UnknownOperation(op)
	}
}

func (r *Router) serverAudit(ctx context.Context, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	if r.auditLogger == nil {
		return map[string]interface{}{"events": []audit.Event{}}, nil
	}
	filter := audit.QueryFilter{
		UserID:    optionalString(payload, "userId"),
		Operation: optionalString(payload, "operation"),
		Limit:     optionalInt(payload, "limit"),
	}
	if sinceMs := optionalInt64(payload, "sinceMs"); sinceMs > 0 {
		filter.Since = time.UnixMilli(sinceMs)
	}
	events, err := r.auditLogger.Query(ctx, filter)
	if err != nil {
		return nil, apperrors.InternalError(err)
	}
	return map[string]interface{}{"events": events}, nil
}

func optionalInt(payload map[string]interface{}, key string) int {
	v, _ := payload[key].(float64)
	return int(v)
}

func optionalInt64(payload map[string]interface{}, key string) int64 {
	v, _ := payload[key].(float64)
	return int64(v)
}
