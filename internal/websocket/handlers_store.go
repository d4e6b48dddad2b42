package websocket

import (
	"context"

	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/store"
)

// dispatchStore handles every store.* operation (spec §6's Store
// collaborator field contracts). Each handler extracts its fields from the
// payload, calls the Store, and shapes the result the way the wire protocol
// expects -- flattened records, {count}/{sum}/{avg}-style scalar wrappers,
// or the bare {records, hasMore} pagination envelope.
func (r *Router) dispatchStore(ctx context.Context, conn *Connection, op string, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	st := r.cfg.Store

	switch op {
	case "store.get":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		rec, err := st.Get(ctx, bucket, key)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return rec.Flatten(), nil

	case "store.insert":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		data, perr := optionalData(payload)
		if perr != nil {
			return nil, perr
		}
		rec, err := st.Insert(ctx, bucket, data)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return rec.Flatten(), nil

	case "store.update":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		data, perr := optionalData(payload)
		if perr != nil {
			return nil, perr
		}
		rec, err := st.Update(ctx, bucket, key, data)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return rec.Flatten(), nil

	case "store.delete":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		key, perr := requireString(payload, "key")
		if perr != nil {
			return nil, perr
		}
		// Top-level store.delete errors on a missing key; only the
		// transaction-batch delete op is idempotent (spec §9 open question).
		deleted, err := st.Delete(ctx, bucket, key)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"deleted": deleted}, nil

	case "store.clear":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		if err := st.Clear(ctx, bucket); err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"cleared": true}, nil

	case "store.all":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		recs, err := st.All(ctx, bucket)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return flattenAll(recs), nil

	case "store.where":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		recs, err := st.Where(ctx, bucket, optionalFilter(payload, "filter"))
		if err != nil {
			return nil, toProtoErr(err)
		}
		return flattenAll(recs), nil

	case "store.findOne":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		rec, err := st.FindOne(ctx, bucket, optionalFilter(payload, "filter"))
		if err != nil {
			return nil, toProtoErr(err)
		}
		return rec.Flatten(), nil

	case "store.count":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		n, err := st.Count(ctx, bucket, optionalFilter(payload, "filter"))
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"count": n}, nil

	case "store.first":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		n, perr := requireInt(payload, "n")
		if perr != nil {
			return nil, perr
		}
		recs, err := st.First(ctx, bucket, n)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return flattenAll(recs), nil

	case "store.last":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		n, perr := requireInt(payload, "n")
		if perr != nil {
			return nil, perr
		}
		recs, err := st.Last(ctx, bucket, n)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return flattenAll(recs), nil

	case "store.paginate":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		limit, _ := requireInt(payload, "limit")
		if limit <= 0 {
			limit = 20
		}
		after := optionalString(payload, "after")
		recs, hasMore, err := st.Paginate(ctx, bucket, limit, after)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"records": flattenAll(recs), "hasMore": hasMore}, nil

	case "store.sum":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		field, perr := requireString(payload, "field")
		if perr != nil {
			return nil, perr
		}
		sum, err := st.Sum(ctx, bucket, field)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"sum": sum}, nil

	case "store.avg":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		field, perr := requireString(payload, "field")
		if perr != nil {
			return nil, perr
		}
		avg, err := st.Avg(ctx, bucket, field)
		if err != nil {
			return nil, toProtoErr(err)
		}
		if avg == nil {
			return map[string]interface{}{"avg": nil}, nil
		}
		return map[string]interface{}{"avg": *avg}, nil

	case "store.min":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		field, perr := requireString(payload, "field")
		if perr != nil {
			return nil, perr
		}
		v, err := st.Min(ctx, bucket, field)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"min": v}, nil

	case "store.max":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		field, perr := requireString(payload, "field")
		if perr != nil {
			return nil, perr
		}
		v, err := st.Max(ctx, bucket, field)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"max": v}, nil

	case "store.buckets":
		names, err := st.Buckets(ctx)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"buckets": names}, nil

	case "store.stats":
		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, toProtoErr(err)
		}
		return stats, nil

	case "store.defineBucket":
		bucket, perr := requireString(payload, "bucket")
		if perr != nil {
			return nil, perr
		}
		required := stringSlice(payload["requiredFields"])
		if err := st.DefineBucket(ctx, bucket, required); err != nil {
			return nil, toProtoErr(err)
		}
		return map[string]interface{}{"defined": true}, nil

	case "store.defineQuery":
		return r.defineQuery(st, payload)

	case "store.subscribe":
		return r.subscribeQuery(conn, st, payload)

	case "store.unsubscribe":
		return r.unsubscribeCommon(conn, payload)

	case "store.transaction":
		return r.transaction(ctx, st, payload)

	default:
		return nil, apperrors.UnknownOperation(op)
	}
}

// defineQuery compiles a declarative {bucket, filter?} query spec into a
// store.QueryFunc: bucket().all() when filter is absent, bucket().where(...)
// otherwise. Queries are ordinarily declared in Go before server start
// (spec §6); this wire operation exists so an admin session can register
// the common filter-only shape without a server redeploy.
func (r *Router) defineQuery(st store.Store, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	name, perr := requireString(payload, "name")
	if perr != nil {
		return nil, perr
	}
	bucket, perr := requireString(payload, "bucket")
	if perr != nil {
		return nil, perr
	}
	filter := optionalFilter(payload, "filter")

	st.DefineQuery(name, func(ctx context.Context, s store.Store, params map[string]interface{}) (interface{}, error) {
		effective := filter
		if len(params) > 0 {
			effective = mergeFilters(filter, params)
		}
		var recs []*store.Record
		var err error
		if len(effective) == 0 {
			recs, err = s.All(ctx, bucket)
		} else {
			recs, err = s.Where(ctx, bucket, effective)
		}
		if err != nil {
			return nil, err
		}
		return flattenAll(recs), nil
	})
	return map[string]interface{}{"defined": true}, nil
}

func (r *Router) subscribeQuery(conn *Connection, st store.Store, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	name, perr := requireString(payload, "query")
	if perr != nil {
		return nil, perr
	}
	params := optionalFilter(payload, "params")
	id, value, err := conn.subs.SubscribeQuery(conn.ID(), st, name, params)
	if err != nil {
		return nil, toProtoErr(err)
	}
	conn.OnSubscriptionCountChanged()
	return map[string]interface{}{"subscriptionId": id, "data": value}, nil
}

func (r *Router) unsubscribeCommon(conn *Connection, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	id, perr := requireString(payload, "subscriptionId")
	if perr != nil {
		return nil, perr
	}
	if err := conn.subs.Unsubscribe(conn.ID(), id); err != nil {
		return nil, toProtoErr(err)
	}
	conn.OnSubscriptionCountChanged()
	return map[string]interface{}{"unsubscribed": true}, nil
}

func (r *Router) transaction(ctx context.Context, st store.Store, payload map[string]interface{}) (interface{}, *apperrors.ProtocolError) {
	rawOps, ok := payload["ops"].([]interface{})
	if !ok {
		return nil, apperrors.InvalidRequest("missing or invalid field \"ops\"")
	}
	ops := make([]store.Op, 0, len(rawOps))
	for _, raw := range rawOps {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, apperrors.InvalidRequest("each transaction op must be an object")
		}
		kind, _ := m["kind"].(string)
		bucket, _ := m["bucket"].(string)
		key, _ := m["key"].(string)
		data, _ := m["data"].(map[string]interface{})
		ops = append(ops, store.Op{Kind: kind, Bucket: bucket, Key: key, Data: data})
	}

	results, err := st.Transaction(ctx, ops)
	if err != nil {
		return nil, toProtoErr(err)
	}
	out := make([]interface{}, 0, len(results))
	for _, res := range results {
		if res.Err != nil {
			pe := toProtoErr(res.Err)
			out = append(out, map[string]interface{}{"error": pe})
			continue
		}
		out = append(out, res.Data)
	}
	return out, nil
}

func flattenAll(recs []*store.Record) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.Flatten())
	}
	return out
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func mergeFilters(base, extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
