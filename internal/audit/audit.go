// Package audit persists a record of every mutating protocol operation for
// compliance and security review.
//
// Events are appended to a bounded channel and drained by a single writer
// goroutine so that a slow or unavailable Postgres instance never blocks a
// connection actor. String values in the Payload and Metadata maps are
// sanitized with bluemonday before they reach the database; structured
// fields that match a known sensitive-field name are replaced outright
// rather than merely stripped of markup.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/relaygate/gateway/internal/logger"
)

// QueryFilter narrows a Query call. Zero-value fields are ignored.
type QueryFilter struct {
	UserID    string
	Operation string
	Since     time.Time
	Limit     int
}

// Event is one entry in the audit trail. It describes a single protocol
// operation, not an HTTP request: the gateway has no HTTP request/response
// cycle on its hot path, so the event is shaped around Operation/Resource
// instead of Method/Path.
type Event struct {
	Timestamp    time.Time              `json:"timestamp"`
	ConnectionID string                 `json:"connection_id"`
	UserID       string                 `json:"user_id,omitempty"`
	Operation    string                 `json:"operation"`
	Resource     string                 `json:"resource,omitempty"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Outcome      string                 `json:"outcome"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	DurationMs   int64                  `json:"duration_ms"`
	IPAddress    string                 `json:"ip_address"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// defaultSensitiveFields are redacted outright wherever they appear as a key
// in a Payload or Metadata map or in a map nested inside one; maps held
// inside arrays are not inspected.
var defaultSensitiveFields = []string{"password", "token", "secret", "apiKey", "api_key", "totp"}

// Logger accepts audit events from connection actors and persists them
// asynchronously. A nil database disables persistence; events are still
// drained (and dropped) so callers never block on a full channel forever.
type Logger struct {
	db       *sql.DB
	events   chan Event
	done     chan struct{}
	sanitize *bluemonday.Policy
	fields   []string
}

// Config controls the audit writer's queue depth and database.
type Config struct {
	DB           *sql.DB
	QueueSize    int // default 1024
	SensitiveFields []string // additional fields beyond the defaults
}

func New(cfg Config) *Logger {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	l := &Logger{
		db:       cfg.DB,
		events:   make(chan Event, size),
		done:     make(chan struct{}),
		sanitize: bluemonday.StrictPolicy(),
		fields:   append(append([]string{}, defaultSensitiveFields...), cfg.SensitiveFields...),
	}
	go l.run()
	return l
}

// Record enqueues an event for async persistence. It never blocks the
// caller: a full queue drops the event and logs a warning, since audit
// logging must not add backpressure to the protocol path.
func (l *Logger) Record(ev Event) {
	if l == nil {
		return
	}
	ev.Payload = l.redact(ev.Payload)
	ev.Metadata = l.redact(ev.Metadata)
	select {
	case l.events <- ev:
	default:
		logger.Audit().Warn().
			Str("operation", ev.Operation).
			Msg("audit queue full, dropping event")
	}
}

// Close stops accepting new events and waits for the queue to drain.
func (l *Logger) Close() {
	if l == nil {
		return
	}
	close(l.events)
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.events {
		if err := l.write(ev); err != nil {
			logger.Audit().Error().Err(err).Str("operation", ev.Operation).Msg("failed to write audit event")
		}
	}
}

func (l *Logger) write(ev Event) error {
	if l.db == nil {
		return nil
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"payload":  ev.Payload,
		"metadata": ev.Metadata,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := l.db.ExecContext(ctx, insertQuery,
		ev.Timestamp, ev.ConnectionID, ev.UserID, ev.Operation,
		ev.Resource, ev.ResourceID, ev.Outcome, ev.ErrorCode,
		ev.DurationMs, ev.IPAddress, payload,
	)
	return err
}

// Query reads back audit events for server.audit (admin tier). Returns an
// empty slice, not an error, when persistence is disabled (l.db == nil) --
// an admin asking to see the trail when none is being kept gets "nothing
// happened yet", not a failure.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l == nil || l.db == nil {
		return []Event{}, nil
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := `
		SELECT timestamp, connection_id, user_id, operation, resource, resource_id,
		       outcome, error_code, duration_ms, ip_address, details
		FROM audit_log
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR operation = $2)
		  AND ($3::timestamptz IS NULL OR timestamp >= $3)
		ORDER BY timestamp DESC
		LIMIT $4
	`
	var since interface{}
	if !filter.Since.IsZero() {
		since = filter.Since
	}
	rows, err := l.db.QueryContext(ctx, query, filter.UserID, filter.Operation, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var details []byte
		if err := rows.Scan(&ev.Timestamp, &ev.ConnectionID, &ev.UserID, &ev.Operation,
			&ev.Resource, &ev.ResourceID, &ev.Outcome, &ev.ErrorCode,
			&ev.DurationMs, &ev.IPAddress, &details); err != nil {
			return nil, err
		}
		var decoded struct {
			Payload  map[string]interface{} `json:"payload"`
			Metadata map[string]interface{} `json:"metadata"`
		}
		if len(details) > 0 {
			_ = json.Unmarshal(details, &decoded)
			ev.Payload = decoded.Payload
			ev.Metadata = decoded.Metadata
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

const insertQuery = `
	INSERT INTO audit_log
		(timestamp, connection_id, user_id, operation, resource, resource_id,
		 outcome, error_code, duration_ms, ip_address, details)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// redact walks a map, sanitizing free-text string values with bluemonday and
// replacing any value whose key matches a sensitive field name outright.
// Arrays of objects are left unprocessed, matching the limitation already
// accepted for the connection-actor payloads this logger receives (they are
// request/response JSON values, not user-editable rich text).
func (l *Logger) redact(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if l.isSensitive(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = l.redact(val)
		case string:
			out[k] = l.sanitize.Sanitize(val)
		default:
			out[k] = v
		}
	}
	return out
}

func (l *Logger) isSensitive(key string) bool {
	for _, f := range l.fields {
		if key == f {
			return true
		}
	}
	return false
}
