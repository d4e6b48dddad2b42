// Package errors also provides Gin middleware for the gateway's thin HTTP
// surface (the WS upgrade route and the /healthz, /stats mirrors of
// server.stats). The WebSocket protocol path never uses this middleware;
// protocol errors are serialized by the codec directly.
package errors

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Recovery recovers from panics in the HTTP handlers and logs them via the
// supplied logger instead of the standard library logger.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("recovered from panic in http handler")
				c.JSON(http.StatusInternalServerError, gin.H{
					"code":    CodeInternalError,
					"message": "an unexpected error occurred",
				})
				c.Abort()
			}
		}()
		c.Next()
	}
}

// httpStatus maps a protocol error code to the HTTP status used only by the
// thin HTTP surface; the WebSocket wire protocol never carries HTTP statuses.
func httpStatus(code string) int {
	switch code {
	case CodeValidationError, CodeInvalidRequest, CodeParseError:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound, CodeBucketNotDefined, CodeQueryNotDefined, CodeUnknownOperation:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyExists:
		return http.StatusConflict
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeRulesNotAvailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondJSON writes a ProtocolError to a plain HTTP response with the status
// mapped from its code (for HTTP routes, not the WS path).
func RespondJSON(c *gin.Context, err *ProtocolError) {
	c.JSON(httpStatus(err.Code), err)
}
