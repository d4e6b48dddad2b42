// Package procedures defines the interface the gateway core consumes from
// the optional stored-procedure Orchestrator collaborator (spec §1: out of
// scope beyond this interface). procedures.call and procedures.register are
// the two wire operations that reach it; the orchestrator itself — argument
// validation, step execution, timeouts — is the caller's concern, not the
// core's (spec §5: "procedure-level timeouts are the orchestrator's
// concern").
package procedures

import "context"

// Orchestrator is the interface the gateway core consumes. A nil
// Orchestrator means procedures.* is not configured; the router reports
// UNKNOWN_OPERATION rather than a dedicated "not available" code, since the
// spec's closed error taxonomy has no PROCEDURES_NOT_AVAILABLE entry.
type Orchestrator interface {
	// Register declares a named procedure, callable thereafter via Call.
	Register(ctx context.Context, name string, definition map[string]interface{}) error

	// Call invokes a registered procedure with the given arguments and
	// returns its result.
	Call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}
