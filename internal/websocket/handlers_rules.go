package websocket

import (
	"context"

	apperrors "github.com/relaygate/gateway/internal/errors"
)

// dispatchRules handles every rules.* operation against the optional Rule
// Engine collaborator (spec §6). A nil Rules config surfaces
// RULES_NOT_AVAILABLE for every op in this namespace rather than
// UNKNOWN_OPERATION, since the operations themselves are well-formed and
// merely unreachable without a configured engine.
func (r *Router) dispatchRules(ctx context.Context, conn *Connection, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	engine := r.cfg.Rules
	if engine == nil {
		return nil, apperrors.RulesNotAvailable()
	}

	switch op {
	case "rules.emit":
		topic, perr := requireString(payload, "topic")
		if perr != nil {
			return nil, perr
		}
		data, perr := optionalData(payload)
		if perr != nil {
			return nil, perr
		}
		correlationID := optionalString(payload, "correlationId")
		causationID := optionalString(payload, "causationId")
		ev, err := engine.Emit(ctx, topic, data, correlationID, causationID)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return ev, nil

	case "rules.setFact":
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		if err := engine.SetFact(ctx, key, payload["value"]); err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"set": true}, nil

	case "rules.getFact":
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		value, found, err := engine.GetFact(ctx, key)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"value": value, "found": found}, nil

	case "rules.deleteFact":
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		deleted, err := engine.DeleteFact(ctx, key)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"deleted": deleted}, nil

	case "rules.queryFacts":
		pattern, perr := requireString(payload, "pattern")
		if perr != nil {
			return nil, perr
		}
		facts, err := engine.QueryFacts(ctx, pattern)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return facts, nil

	case "rules.getAllFacts":
		facts, err := engine.GetAllFacts(ctx)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return facts, nil

	case "rules.stats":
		stats, err := engine.Stats(ctx)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return stats, nil

	case "rules.subscribe":
		pattern, perr := requireString(payload, "pattern")
		if perr != nil {
			return nil, perr
		}
		id, err := conn.subs.SubscribeEvent(conn.ID(), engine, pattern)
		if err != nil {
			return nil, toProtoErr(err)
		}
		conn.OnSubscriptionCountChanged()
		return map[string]interface{}{"subscriptionId": id}, nil

	case "rules.unsubscribe":
		return r.unsubscribeCommon(conn, payload)

	default:
		return nil, apperrors.UnknownOperation(op)
	}
}
