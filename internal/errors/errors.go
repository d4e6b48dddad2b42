// Package errors provides the closed protocol error taxonomy for Relaygate.
//
// Every failure the gateway reports to a client is a *ProtocolError*: a
// machine-readable Code, a human-readable Message, and an optional Details
// payload that is only serialized onto the wire when the gateway is
// configured with exposeErrorDetails. Handlers never construct a raw error
// code string; they call one of the named constructors below so the set of
// codes a client can ever see stays closed.
package errors

import "fmt"

// ProtocolError is the typed error every request handler returns on failure.
type ProtocolError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Closed set of wire error codes (spec §7).
const (
	CodeParseError         = "PARSE_ERROR"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnknownOperation   = "UNKNOWN_OPERATION"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeBucketNotDefined   = "BUCKET_NOT_DEFINED"
	CodeQueryNotDefined    = "QUERY_NOT_DEFINED"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeConflict           = "CONFLICT"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeRateLimited        = "RATE_LIMITED"
	CodeRulesNotAvailable  = "RULES_NOT_AVAILABLE"
	CodeInternalError      = "INTERNAL_ERROR"
)

func New(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

func WithDetails(code, message string, details interface{}) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Details: details}
}

func ParseError(message string) *ProtocolError {
	return New(CodeParseError, message)
}

func InvalidRequest(message string) *ProtocolError {
	return New(CodeInvalidRequest, message)
}

func UnknownOperation(operation string) *ProtocolError {
	return New(CodeUnknownOperation, fmt.Sprintf("unknown operation %q", operation))
}

func ValidationError(message string) *ProtocolError {
	return New(CodeValidationError, message)
}

func ValidationErrorWithDetails(message string, details interface{}) *ProtocolError {
	return WithDetails(CodeValidationError, message, details)
}

func BucketNotDefined(bucket string) *ProtocolError {
	return New(CodeBucketNotDefined, fmt.Sprintf("bucket %q is not defined", bucket))
}

func QueryNotDefined(query string) *ProtocolError {
	return New(CodeQueryNotDefined, fmt.Sprintf("query %q is not defined", query))
}

func NotFound(resource string) *ProtocolError {
	return New(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

func AlreadyExists(resource string) *ProtocolError {
	return New(CodeAlreadyExists, fmt.Sprintf("%s already exists", resource))
}

func Conflict(message string) *ProtocolError {
	return New(CodeConflict, message)
}

func Unauthorized(message string) *ProtocolError {
	return New(CodeUnauthorized, message)
}

func Forbidden(message string) *ProtocolError {
	return New(CodeForbidden, message)
}

// RateLimited carries the retry hint the client needs to back off correctly.
func RateLimited(message string, retryAfterMs int64) *ProtocolError {
	return WithDetails(CodeRateLimited, message, map[string]int64{"retryAfterMs": retryAfterMs})
}

func RulesNotAvailable() *ProtocolError {
	return New(CodeRulesNotAvailable, "the rule engine collaborator is not configured")
}

func InternalError(err error) *ProtocolError {
	msg := "internal error"
	if err != nil {
		return WithDetails(CodeInternalError, msg, err.Error())
	}
	return New(CodeInternalError, msg)
}
