// Package protocol implements the JSON-over-WebSocket wire format: parsing
// inbound frames into Requests or Pongs, and serializing outbound Results,
// Errors, Pushes, and system frames.
//
// Parsing order is significant (spec step order, not just convenience):
// a malformed pong payload is reported before the generic id/type checks,
// and a missing id is reported before a missing type. Every ParseResult
// produced by Parse carries the caller's id when it was present and
// well-formed, 0 otherwise -- the server never invents an id it didn't see.
package protocol

import (
	"encoding/json"

	apperrors "github.com/relaygate/gateway/internal/errors"
)

// ProtocolVersion is advertised in the welcome frame.
const ProtocolVersion = "1.0.0"

// Request is a parsed, validated inbound envelope awaiting dispatch.
type Request struct {
	ID      float64
	Type    string
	Payload map[string]interface{}
}

// Pong is a parsed inbound pong frame.
type Pong struct {
	Timestamp float64
}

// ParseResult is the outcome of Parse: exactly one of Request, Pong, or Err
// is non-nil.
type ParseResult struct {
	Request *Request
	Pong    *Pong
	Err     *apperrors.ProtocolError
	ErrID   float64 // id to echo alongside Err, 0 if absent/malformed
}

// Parse decodes a single text frame per the protocol codec rules (spec §4.1).
func Parse(raw []byte) ParseResult {
	var root interface{}
	if err := json.Unmarshal(raw, &root); err != nil {
		return ParseResult{Err: apperrors.ParseError("invalid JSON")}
	}

	obj, ok := root.(map[string]interface{})
	if !ok {
		return ParseResult{Err: apperrors.ParseError("envelope must be a JSON object")}
	}

	if t, ok := obj["type"].(string); ok && t == "pong" {
		ts, ok := obj["timestamp"].(float64)
		if !ok {
			return ParseResult{Err: apperrors.InvalidRequest("pong requires a numeric timestamp")}
		}
		return ParseResult{Pong: &Pong{Timestamp: ts}}
	}

	idVal, hasID := obj["id"]
	id, idIsNumber := idVal.(float64)
	if !hasID || !idIsNumber {
		return ParseResult{Err: apperrors.InvalidRequest("request requires a numeric id")}
	}

	typ, ok := obj["type"].(string)
	if !ok || typ == "" {
		return ParseResult{Err: apperrors.InvalidRequest("request requires a non-empty type"), ErrID: id}
	}

	payload := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "id" || k == "type" {
			continue
		}
		payload[k] = v
	}

	return ParseResult{Request: &Request{ID: id, Type: typ, Payload: payload}}
}

// resultFrame and friends are the exact wire shapes (spec §4.1): no extra
// keys, `details` omitted entirely when absent rather than serialized null.

type resultFrame struct {
	ID   float64     `json:"id"`
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type errorFrame struct {
	ID      float64     `json:"id"`
	Type    string      `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type pushFrame struct {
	Type           string      `json:"type"`
	Channel        string      `json:"channel"`
	SubscriptionID string      `json:"subscriptionId"`
	Data           interface{} `json:"data"`
}

type welcomeFrame struct {
	Type         string `json:"type"`
	Version      string `json:"version"`
	ServerTime   int64  `json:"serverTime"`
	RequiresAuth bool   `json:"requiresAuth"`
}

type pingFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type systemShutdownFrame struct {
	Type          string `json:"type"`
	Event         string `json:"event"`
	GracePeriodMs int64  `json:"gracePeriodMs"`
}

// Result serializes a successful response.
func Result(id float64, data interface{}) []byte {
	b, _ := json.Marshal(resultFrame{ID: id, Type: "result", Data: data})
	return b
}

// Error serializes an error response. Details is stripped entirely when
// exposeDetails is false, regardless of whether the ProtocolError carries one.
func Error(id float64, err *apperrors.ProtocolError, exposeDetails bool) []byte {
	f := errorFrame{ID: id, Type: "error", Code: err.Code, Message: err.Message}
	if exposeDetails {
		f.Details = err.Details
	}
	b, _ := json.Marshal(f)
	return b
}

// Push serializes a server-initiated push for a subscription.
func Push(channel, subscriptionID string, data interface{}) []byte {
	b, _ := json.Marshal(pushFrame{Type: "push", Channel: channel, SubscriptionID: subscriptionID, Data: data})
	return b
}

// Welcome serializes the connection's greeting frame.
func Welcome(serverTime int64, requiresAuth bool) []byte {
	b, _ := json.Marshal(welcomeFrame{Type: "welcome", Version: ProtocolVersion, ServerTime: serverTime, RequiresAuth: requiresAuth})
	return b
}

// Ping serializes a heartbeat ping carrying the send timestamp.
func Ping(timestamp int64) []byte {
	b, _ := json.Marshal(pingFrame{Type: "ping", Timestamp: timestamp})
	return b
}

// Shutdown serializes the pre-close system broadcast.
func Shutdown(gracePeriodMs int64) []byte {
	b, _ := json.Marshal(systemShutdownFrame{Type: "system", Event: "shutdown", GracePeriodMs: gracePeriodMs})
	return b
}
