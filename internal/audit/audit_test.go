package audit

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_Record_WritesAndRedacts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_log").
		WithArgs(
			sqlmock.AnyArg(), // timestamp
			"conn-1",
			"user-1",
			"store.insert",
			"widgets",
			"",
			OutcomeSuccess,
			"",
			sqlmock.AnyArg(), // duration_ms
			"127.0.0.1",
			sqlmock.AnyArg(), // details jsonb
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	l := New(Config{DB: db, QueueSize: 4})

	l.Record(Event{
		Timestamp:    time.Unix(0, 0),
		ConnectionID: "conn-1",
		UserID:       "user-1",
		Operation:    "store.insert",
		Resource:     "widgets",
		Outcome:      OutcomeSuccess,
		IPAddress:    "127.0.0.1",
		Payload:      map[string]interface{}{"password": "hunter2", "name": "<b>widget</b>"},
	})

	l.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogger_Record_NilDatabaseIsNoop(t *testing.T) {
	l := New(Config{DB: nil, QueueSize: 4})
	l.Record(Event{Operation: "store.insert", Outcome: OutcomeSuccess})
	l.Close()
}

func TestLogger_Record_NilLoggerIsNoop(t *testing.T) {
	var l *Logger
	l.Record(Event{Operation: "store.insert"})
	l.Close()
}

func TestRedact_SensitiveFieldsAndNesting(t *testing.T) {
	l := New(Config{})
	defer l.Close()

	out := l.redact(map[string]interface{}{
		"password": "hunter2",
		"nested": map[string]interface{}{
			"apiKey": "abc123",
			"note":   "hello",
		},
		"note": "<script>alert(1)</script>",
	})

	assert.Equal(t, "[REDACTED]", out["password"])
	nested := out["nested"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["apiKey"])
	assert.Equal(t, "hello", nested["note"])
	assert.NotContains(t, out["note"], "<script>")
}

func TestLogger_Record_FullQueueDropsEvent(t *testing.T) {
	l := New(Config{QueueSize: 0})
	for i := 0; i < 10000; i++ {
		l.Record(Event{Operation: "store.insert", Outcome: OutcomeSuccess})
	}
	l.Close()
}
