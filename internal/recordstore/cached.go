package recordstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"surveyflow/internal/cache"
	"surveyflow/internal/models"
)

// DefaultRecordTTL is how long a cached record snapshot stays valid.
const DefaultRecordTTL = 5 * time.Minute

// Cached layers a TTL cache over a Store. Reads hit the cache first; writes
// merge the new fields into the cached snapshot so subsequent reads see the
// update without a round trip. Array-of-object values (attachments) replace
// the cached value wholesale, matching backend semantics.
type Cached struct {
	backend Store
	mu      sync.Mutex
	cache   *cache.Cache[string, models.Fields]
}

// NewCached wraps a backend with a record cache.
func NewCached(backend Store, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &Cached{
		backend: backend,
		cache:   cache.New[string, models.Fields](ttl),
	}
}

func cacheKey(table, id string) string { return table + ":" + id }

// CreateRecord creates the record and primes the cache with its fields.
func (c *Cached) CreateRecord(ctx context.Context, table string, fields models.Fields) (string, error) {
	id, err := c.backend.CreateRecord(ctx, table, fields)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	c.cache.Set(cacheKey(table, id), cloneFields(fields))
	c.mu.Unlock()
	return id, nil
}

// GetRecord returns the cached snapshot when fresh, otherwise reads through.
func (c *Cached) GetRecord(ctx context.Context, table, id string) (models.Fields, error) {
	key := cacheKey(table, id)
	c.mu.Lock()
	if fields, ok := c.cache.Get(key); ok {
		c.mu.Unlock()
		slog.Debug("Cached record hit", "table", table, "record_id", id)
		return cloneFields(fields), nil
	}
	c.mu.Unlock()

	fields, err := c.backend.GetRecord(ctx, table, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cache.Set(key, cloneFields(fields))
	c.mu.Unlock()
	return fields, nil
}

// UpdateRecord writes through to the backend and merges the fields into the
// cached snapshot when one exists.
func (c *Cached) UpdateRecord(ctx context.Context, table, id string, fields models.Fields) error {
	if err := c.backend.UpdateRecord(ctx, table, id, fields); err != nil {
		return err
	}
	key := cacheKey(table, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.cache.Get(key); ok {
		merged := cloneFields(cached)
		for k, v := range fields {
			merged[k] = v
		}
		c.cache.Set(key, merged)
	} else {
		c.cache.Set(key, cloneFields(fields))
	}
	return nil
}
