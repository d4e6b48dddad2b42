package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/relaygate/gateway/internal/errors"
)

func errWithDetails() *apperrors.ProtocolError {
	return apperrors.ValidationErrorWithDetails("bad", map[string]interface{}{"field": "x"})
}

func TestParse_ValidRequest(t *testing.T) {
	res := Parse([]byte(`{"id":1,"type":"store.insert","bucket":"users","data":{"name":"Alice"}}`))
	require.NotNil(t, res.Request)
	assert.Nil(t, res.Err)
	assert.Equal(t, float64(1), res.Request.ID)
	assert.Equal(t, "store.insert", res.Request.Type)
	assert.Equal(t, "users", res.Request.Payload["bucket"])
	_, hasID := res.Request.Payload["id"]
	assert.False(t, hasID, "id must not leak into payload")
}

func TestParse_NegativeAndFractionalIDsAllowed(t *testing.T) {
	res := Parse([]byte(`{"id":-3.5,"type":"server.stats"}`))
	require.NotNil(t, res.Request)
	assert.Equal(t, float64(-3.5), res.Request.ID)
}

func TestParse_ZeroIDAllowed(t *testing.T) {
	res := Parse([]byte(`{"id":0,"type":"server.stats"}`))
	require.NotNil(t, res.Request)
	assert.Equal(t, float64(0), res.Request.ID)
}

func TestParse_InvalidJSON(t *testing.T) {
	res := Parse([]byte(`not json`))
	require.NotNil(t, res.Err)
	assert.Equal(t, "PARSE_ERROR", res.Err.Code)
	assert.Equal(t, float64(0), res.ErrID)
}

func TestParse_NonObjectRoot(t *testing.T) {
	res := Parse([]byte(`[1,2,3]`))
	require.NotNil(t, res.Err)
	assert.Equal(t, "PARSE_ERROR", res.Err.Code)
}

func TestParse_MissingIDReportedBeforeMissingType(t *testing.T) {
	res := Parse([]byte(`{}`))
	require.NotNil(t, res.Err)
	assert.Equal(t, "INVALID_REQUEST", res.Err.Code)
	assert.Contains(t, res.Err.Message, "id")
}

func TestParse_MissingTypeAfterIDPresent(t *testing.T) {
	res := Parse([]byte(`{"id":7}`))
	require.NotNil(t, res.Err)
	assert.Equal(t, "INVALID_REQUEST", res.Err.Code)
	assert.Equal(t, float64(7), res.ErrID)
}

func TestParse_EmptyTypeRejected(t *testing.T) {
	res := Parse([]byte(`{"id":2,"type":""}`))
	require.NotNil(t, res.Err)
	assert.Equal(t, float64(2), res.ErrID)
}

func TestParse_Pong(t *testing.T) {
	res := Parse([]byte(`{"type":"pong","timestamp":12345}`))
	require.NotNil(t, res.Pong)
	assert.Equal(t, float64(12345), res.Pong.Timestamp)
}

func TestParse_PongMissingTimestamp(t *testing.T) {
	res := Parse([]byte(`{"type":"pong"}`))
	require.NotNil(t, res.Err)
	assert.Equal(t, "INVALID_REQUEST", res.Err.Code)
	assert.Equal(t, float64(0), res.ErrID)
}

func TestSerialize_Result(t *testing.T) {
	r := Result(1, map[string]interface{}{"ok": true})
	assert.JSONEq(t, `{"id":1,"type":"result","data":{"ok":true}}`, string(r))
}

func TestSerialize_ErrorOmitsDetailsWhenNotExposed(t *testing.T) {
	e := Error(1, errWithDetails(), false)
	assert.JSONEq(t, `{"id":1,"type":"error","code":"VALIDATION_ERROR","message":"bad"}`, string(e))
}

func TestSerialize_ErrorIncludesDetailsWhenExposed(t *testing.T) {
	e := Error(1, errWithDetails(), true)
	assert.JSONEq(t, `{"id":1,"type":"error","code":"VALIDATION_ERROR","message":"bad","details":{"field":"x"}}`, string(e))
}

func TestSerialize_Push(t *testing.T) {
	p := Push("subscription", "sub-1", []interface{}{})
	assert.JSONEq(t, `{"type":"push","channel":"subscription","subscriptionId":"sub-1","data":[]}`, string(p))
}

func TestSerialize_Welcome(t *testing.T) {
	w := Welcome(1000, true)
	assert.JSONEq(t, `{"type":"welcome","version":"1.0.0","serverTime":1000,"requiresAuth":true}`, string(w))
}
