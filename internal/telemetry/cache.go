package telemetry

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheCapacity bounds the number of cached events.
const DefaultCacheCapacity = 1000

// EventCache stores events until they are flushed to a sink.
//
// Implementations keep insertion order, are safe for concurrent use, and
// drop the oldest events once full. The composition root owns the instance;
// ClearEvents is the explicit reset.
type EventCache interface {
	AppendEvents(ctx context.Context, events []Event) error
	GetEvents(ctx context.Context) ([]Event, error)
	ClearEvents(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// MemoryCache is an in-process EventCache.
type MemoryCache struct {
	mu    sync.Mutex
	items *lru.Cache[uint64, Event]
	seq   uint64
}

var _ EventCache = (*MemoryCache)(nil)

// NewMemoryCache creates a cache holding at most capacity events.
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	items, err := lru.New[uint64, Event](capacity)
	if err != nil {
		return nil, fmt.Errorf("creating event cache: %w", err)
	}
	return &MemoryCache{items: items}, nil
}

// mustMemoryCache is NewMemoryCache for capacities known to be positive.
func mustMemoryCache(capacity int) *MemoryCache {
	c, err := NewMemoryCache(capacity)
	if err != nil {
		panic(err)
	}
	return c
}

// AppendEvents adds events after everything already cached.
func (c *MemoryCache) AppendEvents(_ context.Context, events []Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		c.seq++
		c.items.Add(c.seq, e)
	}
	return nil
}

// GetEvents returns a snapshot, oldest first.
func (c *MemoryCache) GetEvents(context.Context) ([]Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Values(), nil
}

// ClearEvents empties the cache.
func (c *MemoryCache) ClearEvents(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
	return nil
}

// Len returns the number of cached events.
func (c *MemoryCache) Len(context.Context) (int, error) {
	return c.items.Len(), nil
}
