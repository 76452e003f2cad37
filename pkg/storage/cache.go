package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// CachedStore answers GetSubscription from an in-process cache so inbound
// deliveries do not hit the database every time. Writes made through the
// same CachedStore evict the entry; writes from other processes are seen
// once the ttl lapses.
type CachedStore struct {
	Store
	cache *ristretto.Cache[string, SubscriptionRecord]
	ttl   time.Duration

	// writes counts completed writes. A read that overlapped one does not
	// fill the cache, so a record read before a delete cannot outlive it.
	mu     sync.Mutex
	writes uint64
}

// NewCachedStore wraps next. Each record costs one unit of maxEntries.
func NewCachedStore(next Store, maxEntries int64, ttl time.Duration) (*CachedStore, error) {
	if maxEntries < 1 {
		maxEntries = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, SubscriptionRecord]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: next, cache: cache, ttl: ttl}, nil
}

func (c *CachedStore) GetSubscription(ctx context.Context, id string) (*SubscriptionRecord, error) {
	if record, ok := c.cache.Get(id); ok {
		return cloneRecord(record), nil
	}
	c.mu.Lock()
	before := c.writes
	c.mu.Unlock()

	record, err := c.Store.GetSubscription(ctx, id)
	if err != nil || record == nil {
		return record, err
	}

	c.mu.Lock()
	if c.writes == before {
		c.cache.SetWithTTL(id, *cloneRecord(*record), 1, c.ttl)
	}
	c.mu.Unlock()
	return record, nil
}

func (c *CachedStore) UpsertSubscription(ctx context.Context, record SubscriptionRecord) error {
	defer c.evict(record.ID)
	return c.Store.UpsertSubscription(ctx, record)
}

func (c *CachedStore) DeleteSubscription(ctx context.Context, id string) error {
	defer c.evict(id)
	return c.Store.DeleteSubscription(ctx, id)
}

// evict runs after the backing write. Sets and deletes share ristretto's
// buffer, so a fill made before this Del is removed by it.
func (c *CachedStore) evict(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	c.cache.Del(id)
}

func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Store.Close()
}

// cloneRecord copies the list fields so callers cannot alter a cached entry.
func cloneRecord(record SubscriptionRecord) *SubscriptionRecord {
	record.EventTypes = slices.Clone(record.EventTypes)
	record.FilterPaths = slices.Clone(record.FilterPaths)
	return &record
}
