package subscription

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/gateway/internal/rules/memrules"
	"github.com/relaygate/gateway/internal/store"
	"github.com/relaygate/gateway/internal/store/memstore"
)

func TestDeepEqual(t *testing.T) {
	assert.True(t, DeepEqual(nil, nil))
	assert.False(t, DeepEqual(nil, "x"))
	assert.True(t, DeepEqual([]interface{}{1.0, 2.0}, []interface{}{1.0, 2.0}))
	assert.False(t, DeepEqual([]interface{}{1.0, 2.0}, []interface{}{2.0, 1.0}), "arrays are ordered")
	assert.True(t, DeepEqual(map[string]interface{}{"a": 1.0, "b": 2.0}, map[string]interface{}{"b": 2.0, "a": 1.0}), "objects are unordered")
	assert.False(t, DeepEqual(map[string]interface{}{"a": 1.0}, map[string]interface{}{"a": "1"}))
}

func TestManager_SubscribeQuery_DedupesNoOpChange(t *testing.T) {
	st := memstore.New()
	require.NoError(t, st.DefineBucket(context.Background(), "users", nil))
	st.DefineQuery("all-users", func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		recs, err := s.All(ctx, "users")
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Flatten())
		}
		return out, nil
	})
	st.DefineQuery("admins", func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		recs, err := s.Where(ctx, "users", map[string]interface{}{"role": "admin"})
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(recs))
		for _, r := range recs {
			out = append(out, r.Flatten())
		}
		return out, nil
	})

	var pushes []Push
	mgr := New(100, func(connID string, p Push) {
		pushes = append(pushes, p)
	})

	subID, initial, err := mgr.SubscribeQuery("conn-1", st, "admins", nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{}, initial)
	assert.Equal(t, 1, mgr.Count("conn-1"))

	_, err = st.Insert(context.Background(), "users", map[string]interface{}{"name": "Bob", "role": "user"})
	require.NoError(t, err)
	assert.Empty(t, pushes, "admins query result unchanged, no push expected")

	_, err = st.Insert(context.Background(), "users", map[string]interface{}{"name": "Carol", "role": "admin"})
	require.NoError(t, err)
	require.Len(t, pushes, 1)
	assert.Equal(t, subID, pushes[0].SubscriptionID)
	assert.Equal(t, "subscription", pushes[0].Channel)
}

func TestManager_Unsubscribe_IdempotentAtConnection(t *testing.T) {
	st := memstore.New()
	st.DefineQuery("all", func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	})
	mgr := New(100, func(string, Push) {})
	subID, _, err := mgr.SubscribeQuery("conn-1", st, "all", nil)
	require.NoError(t, err)

	require.NoError(t, mgr.Unsubscribe("conn-1", subID))
	err = mgr.Unsubscribe("conn-1", subID)
	require.Error(t, err)
}

func TestManager_TeardownConnection_ClearsAllSubscriptions(t *testing.T) {
	st := memstore.New()
	st.DefineQuery("all", func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	})
	engine := memrules.New()
	mgr := New(100, func(string, Push) {})

	_, _, err := mgr.SubscribeQuery("conn-1", st, "all", nil)
	require.NoError(t, err)
	_, err = mgr.SubscribeEvent("conn-1", engine, "orders.*")
	require.NoError(t, err)
	assert.Equal(t, 2, mgr.Count("conn-1"))

	mgr.TeardownConnection("conn-1")
	assert.Equal(t, 0, mgr.Count("conn-1"))
}

func TestManager_CapEnforced(t *testing.T) {
	st := memstore.New()
	st.DefineQuery("all", func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		return []interface{}{}, nil
	})
	mgr := New(1, func(string, Push) {})
	_, _, err := mgr.SubscribeQuery("conn-1", st, "all", nil)
	require.NoError(t, err)
	_, _, err = mgr.SubscribeQuery("conn-1", st, "all", nil)
	require.Error(t, err)
}
