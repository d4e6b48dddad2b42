// Package memstore is a reference in-memory implementation of the
// store.Store interface, grounded on the teacher's internal/cache idiom (a
// typed accessor struct guarding a map with a mutex) and internal/db's use
// of google/uuid for generated ids. It exists for tests and local
// development; production deployments swap in their own Store.
//
// Reactive queries are re-evaluated on every write across every active
// subscription (a poll-on-write strategy, not a fine-grained dependency
// tracker) — simple and correct for the scale this reference store targets.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/relaygate/gateway/internal/errors"
	"github.com/relaygate/gateway/internal/logger"
	"github.com/relaygate/gateway/internal/store"
)

type bucket struct {
	records map[string]*store.Record
	order   []string // insertion order, for First/Last/Paginate
	required []string // field names DefineBucket declared as mandatory
}

type querySub struct {
	name     string
	params   map[string]interface{}
	onChange func(interface{})
}

// Store is the in-memory reference implementation.
type Store struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	queries map[string]store.QueryFunc

	subMu sync.Mutex
	subs  map[string]*querySub
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		buckets: make(map[string]*bucket),
		queries: make(map[string]store.QueryFunc),
		subs:    make(map[string]*querySub),
	}
}

func (s *Store) bucketFor(name string, create bool) (*bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[name]
	if !ok && create {
		b = &bucket{records: make(map[string]*store.Record)}
		s.buckets[name] = b
		ok = true
	}
	return b, ok
}

func clone(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *Store) Get(ctx context.Context, bucketName, key string) (*store.Record, error) {
	b, ok := s.bucketFor(bucketName, false)
	if !ok {
		return nil, apperrors.BucketNotDefined(bucketName)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := b.records[key]
	if !ok {
		return nil, apperrors.NotFound("record")
	}
	return rec, nil
}

// DefineBucket declares a bucket ahead of use, optionally with required
// field names enforced on every subsequent Insert/Update.
func (s *Store) DefineBucket(ctx context.Context, name string, requiredFields []string) error {
	b, _ := s.bucketFor(name, true)
	s.mu.Lock()
	b.required = append([]string{}, requiredFields...)
	s.mu.Unlock()
	return nil
}

func missingRequired(required []string, data map[string]interface{}) string {
	for _, f := range required {
		if _, ok := data[f]; !ok {
			return f
		}
	}
	return ""
}

func (s *Store) Insert(ctx context.Context, bucketName string, data map[string]interface{}) (*store.Record, error) {
	b, _ := s.bucketFor(bucketName, true)
	s.mu.RLock()
	missing := missingRequired(b.required, data)
	s.mu.RUnlock()
	if missing != "" {
		return nil, apperrors.ValidationError(fmt.Sprintf("missing required field %q", missing))
	}
	rec := &store.Record{
		ID:        uuid.NewString(),
		Data:      clone(data),
		Version:   1,
		CreatedAt: time.Now().UnixMilli(),
	}
	s.mu.Lock()
	b.records[rec.ID] = rec
	b.order = append(b.order, rec.ID)
	s.mu.Unlock()
	s.notify()
	return rec, nil
}

func (s *Store) Update(ctx context.Context, bucketName, key string, data map[string]interface{}) (*store.Record, error) {
	b, ok := s.bucketFor(bucketName, false)
	if !ok {
		return nil, apperrors.BucketNotDefined(bucketName)
	}
	s.mu.Lock()
	rec, ok := b.records[key]
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NotFound("record")
	}
	merged := clone(rec.Data)
	for k, v := range data {
		merged[k] = v
	}
	updated := &store.Record{ID: rec.ID, Data: merged, Version: rec.Version + 1, CreatedAt: rec.CreatedAt}
	b.records[key] = updated
	s.mu.Unlock()
	s.notify()
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, bucketName, key string) (bool, error) {
	b, ok := s.bucketFor(bucketName, false)
	if !ok {
		return false, apperrors.BucketNotDefined(bucketName)
	}
	s.mu.Lock()
	_, existed := b.records[key]
	if !existed {
		s.mu.Unlock()
		return false, apperrors.NotFound("record")
	}
	delete(b.records, key)
	for i, id := range b.order {
		if id == key {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.notify()
	return true, nil
}

// DeleteIdempotent is used inside transaction batches (spec §9 open
// question): a missing key is reported as {deleted:false}, never an error.
func (s *Store) DeleteIdempotent(ctx context.Context, bucketName, key string) bool {
	ok, err := s.Delete(ctx, bucketName, key)
	if err != nil {
		return false
	}
	return ok
}

func (s *Store) Clear(ctx context.Context, bucketName string) error {
	b, ok := s.bucketFor(bucketName, true)
	_ = ok
	s.mu.Lock()
	b.records = make(map[string]*store.Record)
	b.order = nil
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) All(ctx context.Context, bucketName string) ([]*store.Record, error) {
	b, ok := s.bucketFor(bucketName, false)
	if !ok {
		return nil, apperrors.BucketNotDefined(bucketName)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Record, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.records[id])
	}
	return out, nil
}

func matches(rec *store.Record, filter map[string]interface{}) bool {
	for k, v := range filter {
		if rec.Data[k] != v {
			return false
		}
	}
	return true
}

func (s *Store) Where(ctx context.Context, bucketName string, filter map[string]interface{}) ([]*store.Record, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Record, 0)
	for _, rec := range all {
		if matches(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, bucketName string, filter map[string]interface{}) (*store.Record, error) {
	matched, err := s.Where(ctx, bucketName, filter)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, apperrors.NotFound("record")
	}
	return matched[0], nil
}

func (s *Store) Count(ctx context.Context, bucketName string, filter map[string]interface{}) (int, error) {
	matched, err := s.Where(ctx, bucketName, filter)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (s *Store) First(ctx context.Context, bucketName string, n int) ([]*store.Record, error) {
	if n <= 0 {
		return nil, apperrors.ValidationError("n must be positive")
	}
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if n > len(all) {
		n = len(all)
	}
	return all[:n], nil
}

func (s *Store) Last(ctx context.Context, bucketName string, n int) ([]*store.Record, error) {
	if n <= 0 {
		return nil, apperrors.ValidationError("n must be positive")
	}
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if n > len(all) {
		n = len(all)
	}
	return all[len(all)-n:], nil
}

func (s *Store) Paginate(ctx context.Context, bucketName string, limit int, after string) ([]*store.Record, bool, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, false, err
	}
	start := 0
	if after != "" {
		for i, rec := range all {
			if rec.ID == after {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return []*store.Record{}, false, nil
	}
	end := start + limit
	hasMore := end < len(all)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], hasMore, nil
}

func numeric(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (s *Store) Sum(ctx context.Context, bucketName, field string) (float64, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, rec := range all {
		if n, ok := numeric(rec.Data[field]); ok {
			total += n
		}
	}
	return total, nil
}

func (s *Store) Avg(ctx context.Context, bucketName, field string) (*float64, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	var total float64
	var count int
	for _, rec := range all {
		if n, ok := numeric(rec.Data[field]); ok {
			total += n
			count++
		}
	}
	if count == 0 {
		return nil, nil
	}
	avg := total / float64(count)
	return &avg, nil
}

func (s *Store) Min(ctx context.Context, bucketName, field string) (interface{}, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	var min float64
	found := false
	for _, rec := range all {
		if n, ok := numeric(rec.Data[field]); ok {
			if !found || n < min {
				min = n
				found = true
			}
		}
	}
	if !found {
		return nil, nil
	}
	return min, nil
}

func (s *Store) Max(ctx context.Context, bucketName, field string) (interface{}, error) {
	all, err := s.All(ctx, bucketName)
	if err != nil {
		return nil, err
	}
	var max float64
	found := false
	for _, rec := range all {
		if n, ok := numeric(rec.Data[field]); ok {
			if !found || n > max {
				max = n
				found = true
			}
		}
	}
	if !found {
		return nil, nil
	}
	return max, nil
}

func (s *Store) Buckets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int, len(s.buckets))
	for name, b := range s.buckets {
		counts[name] = len(b.records)
	}
	return map[string]interface{}{"buckets": counts}, nil
}

func (s *Store) DefineQuery(name string, fn store.QueryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[name] = fn
}

func (s *Store) SubscribeQuery(ctx context.Context, name string, params map[string]interface{}, onChange func(interface{})) (*store.Subscription, interface{}, error) {
	s.mu.RLock()
	fn, ok := s.queries[name]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, apperrors.QueryNotDefined(name)
	}
	value, err := fn(ctx, s, params)
	if err != nil {
		return nil, nil, apperrors.InternalError(err)
	}

	id := uuid.NewString()
	sub := &querySub{name: name, params: params, onChange: onChange}
	s.subMu.Lock()
	s.subs[id] = sub
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
	return &store.Subscription{ID: id, Cancel: cancel}, value, nil
}

// notify re-evaluates every active query subscription and delivers the
// fresh value to its onChange callback. Dedup against the previously
// delivered value is the Subscription Manager's job, not the Store's.
func (s *Store) notify() {
	s.subMu.Lock()
	subs := make([]*querySub, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subMu.Unlock()

	for _, sub := range subs {
		s.mu.RLock()
		fn, ok := s.queries[sub.name]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		value, err := fn(context.Background(), s, sub.params)
		if err != nil {
			logger.Store().Warn().Err(err).Str("query", sub.name).Msg("query re-evaluation failed")
			continue
		}
		sub.onChange(value)
	}
}

func (s *Store) Transaction(ctx context.Context, ops []store.Op) ([]store.OpResult, error) {
	results := make([]store.OpResult, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case "insert":
			rec, err := s.Insert(ctx, op.Bucket, op.Data)
			results = append(results, toResult(rec, err))
		case "update":
			rec, err := s.Update(ctx, op.Bucket, op.Key, op.Data)
			results = append(results, toResult(rec, err))
		case "delete":
			deleted := s.DeleteIdempotent(ctx, op.Bucket, op.Key)
			results = append(results, store.OpResult{Data: map[string]interface{}{"deleted": deleted}})
		case "get":
			rec, err := s.Get(ctx, op.Bucket, op.Key)
			results = append(results, toResult(rec, err))
		default:
			return nil, apperrors.InvalidRequest(fmt.Sprintf("unknown transaction op %q", op.Kind))
		}
	}
	return results, nil
}

func toResult(rec *store.Record, err error) store.OpResult {
	if err != nil {
		return store.OpResult{Err: err}
	}
	return store.OpResult{Data: rec.Flatten()}
}

func (s *Store) Health(ctx context.Context) bool {
	return true
}
