// Package store defines the interface the gateway core consumes from the
// transactional key-value Store collaborator (spec §6). The core never
// assumes a particular implementation; internal/store/memstore ships a
// reference in-memory adapter for tests and local development.
package store

import "context"

// Record is a single stored value plus the bookkeeping fields the Store
// attaches to every record: its bucket key, a monotonic version used for
// optimistic-concurrency conflict detection, and creation time.
type Record struct {
	ID         string                 `json:"id"`
	Data       map[string]interface{} `json:"-"`
	Version    int64                  `json:"_version"`
	CreatedAt  int64                  `json:"_createdAt"`
}

// Flatten returns Data merged with the generated id/_version/_createdAt
// fields, the shape the wire protocol returns to clients.
func (r *Record) Flatten() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Data)+3)
	for k, v := range r.Data {
		out[k] = v
	}
	out["id"] = r.ID
	out["_version"] = r.Version
	out["_createdAt"] = r.CreatedAt
	return out
}

// Op is one operation inside a transaction batch.
type Op struct {
	Kind   string // "insert" | "update" | "delete" | "get"
	Bucket string
	Key    string
	Data   map[string]interface{}
}

// OpResult is the outcome of a single transaction op.
type OpResult struct {
	Data interface{}
	Err  error
}

// QueryFunc is a server-defined reactive computation over buckets, declared
// before server start via DefineQuery. It is handed the Store itself so it
// can read buckets (bucket('users').all(), in the documentation's phrasing)
// and the caller-supplied params map.
type QueryFunc func(ctx context.Context, s Store, params map[string]interface{}) (interface{}, error)

// Subscription is a live registration for change notifications on a query.
// The onChange callback passed to SubscribeQuery is invoked by the Store
// whenever the query's result may have changed; the Subscription Manager
// (not the Store) performs dedup.
type Subscription struct {
	ID     string
	Cancel func()
}

// Store is the interface the gateway core consumes. Implementations must be
// safe for concurrent use by many connection goroutines.
type Store interface {
	Get(ctx context.Context, bucket, key string) (*Record, error)
	Insert(ctx context.Context, bucket string, data map[string]interface{}) (*Record, error)
	Update(ctx context.Context, bucket, key string, data map[string]interface{}) (*Record, error)
	Delete(ctx context.Context, bucket, key string) (bool, error)
	Clear(ctx context.Context, bucket string) error
	All(ctx context.Context, bucket string) ([]*Record, error)
	Where(ctx context.Context, bucket string, filter map[string]interface{}) ([]*Record, error)
	FindOne(ctx context.Context, bucket string, filter map[string]interface{}) (*Record, error)
	Count(ctx context.Context, bucket string, filter map[string]interface{}) (int, error)
	First(ctx context.Context, bucket string, n int) ([]*Record, error)
	Last(ctx context.Context, bucket string, n int) ([]*Record, error)
	Paginate(ctx context.Context, bucket string, limit int, after string) (records []*Record, hasMore bool, err error)
	Sum(ctx context.Context, bucket, field string) (float64, error)
	Avg(ctx context.Context, bucket, field string) (*float64, error)
	Min(ctx context.Context, bucket, field string) (interface{}, error)
	Max(ctx context.Context, bucket, field string) (interface{}, error)
	Buckets(ctx context.Context) ([]string, error)
	Stats(ctx context.Context) (map[string]interface{}, error)

	// DefineBucket declares a bucket and, optionally, the field names every
	// record must carry. requiredFields may be nil/empty, in which case the
	// bucket accepts any shape (schema validation is otherwise the Store
	// adapter's concern, out of the core's scope per spec §1).
	DefineBucket(ctx context.Context, name string, requiredFields []string) error

	DefineQuery(name string, fn QueryFunc)
	SubscribeQuery(ctx context.Context, name string, params map[string]interface{}, onChange func(value interface{})) (*Subscription, interface{}, error)

	Transaction(ctx context.Context, ops []Op) ([]OpResult, error)

	// Health reports whether the Store collaborator is reachable, surfaced
	// through server.stats.
	Health(ctx context.Context) bool
}
