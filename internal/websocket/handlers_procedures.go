package websocket

import (
	"context"

	apperrors "github.com/relaygate/gateway/internal/errors"
)

// dispatchProcedures handles procedures.call and procedures.register against
// the optional Orchestrator collaborator (spec §1, internal/procedures). A
// nil Procedures config surfaces UNKNOWN_OPERATION: the closed error
// taxonomy has no dedicated "not available" code for this namespace, unlike
// rules.* (spec §7).
func (r *Router) dispatchProcedures(ctx context.Context, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	orch := r.cfg.Procedures
	if orch == nil {
		return nil, apperrors.UnknownOperation(op)
	}

	switch op {
	case "procedures.call":
		name, perr := requireString(payload, "name")
		if perr != nil {
			return nil, perr
		}
		args := optionalFilter(payload, "args")
		result, err := orch.Call(ctx, name, args)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return result, nil

	case "procedures.register":
		name, perr := requireString(payload, "name")
		if perr != nil {
			return nil, perr
		}
		definition, perr := requireObject(payload, "definition")
		if perr != nil {
			return nil, perr
		}
		if err := orch.Register(ctx, name, definition); err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"registered": true}, nil

	default:
		return nil, apperrors.UnknownOperation(op)
	}
}

func requireObject(payload map[string]interface{}, key string) (map[string]interface{}, *apperrors.ProtocolError) {
	v, ok := payload[key].(map[string]interface{})
	if !ok {
		return nil, apperrors.InvalidRequest("missing or invalid field \"" + key + "\"")
	}
	return v, nil
}
