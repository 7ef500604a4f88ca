// Package sidebar maintains an incrementally paginated list of entities
// (conversations, knowledge bases) merged by identity, so repeated page loads
// never produce duplicate entries.
package sidebar

import (
	"context"
	"sync"
)

// DefaultPageSize is the page length requested when none is given.
const DefaultPageSize = 10

// Fetch loads one page of entries: up to limit items starting at offset skip.
type Fetch[T any] func(ctx context.Context, skip, limit int) ([]T, error)

// Cache accumulates pages of T merged by identity.
type Cache[T any] struct {
	fetch Fetch[T]
	key   func(T) string
	limit int

	mu       sync.Mutex
	items    []T
	seen     map[string]bool
	canMore  bool
	inFlight bool
}

// New creates an empty cache. key extracts an entry's identity. If pageSize
// is <= 0, DefaultPageSize is used.
func New[T any](fetch Fetch[T], key func(T) string, pageSize int) *Cache[T] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Cache[T]{
		fetch:   fetch,
		key:     key,
		limit:   pageSize,
		seen:    make(map[string]bool),
		canMore: true,
	}
}

// LoadMore fetches the next page and merges it in, skipping any entry whose
// identity is already present. It returns the number of genuinely new
// entries. Calling it while a load is in flight, or after the list is
// exhausted, is a no-op. A short page (fewer than pageSize entries) marks the
// list exhausted; a full page leaves more to load.
func (c *Cache[T]) LoadMore(ctx context.Context) (int, error) {
	c.mu.Lock()
	if c.inFlight || !c.canMore {
		c.mu.Unlock()
		return 0, nil
	}
	c.inFlight = true
	skip := len(c.items)
	c.mu.Unlock()

	page, err := c.fetch(ctx, skip, c.limit)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false
	if err != nil {
		return 0, err
	}

	added := 0
	for _, item := range page {
		k := c.key(item)
		if c.seen[k] {
			continue
		}
		c.seen[k] = true
		c.items = append(c.items, item)
		added++
	}
	c.canMore = len(page) == c.limit
	return added, nil
}

// Items returns a copy of the merged list.
func (c *Cache[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Len returns the number of distinct entries loaded so far.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// CanLoadMore reports whether the last fetched page was full, i.e. whether
// another page may exist.
func (c *Cache[T]) CanLoadMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canMore
}

// Loading reports whether a page load is in flight.
func (c *Cache[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Reset discards the list wholesale, as on navigation to a fresh view. The
// next LoadMore starts over from offset zero.
func (c *Cache[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.seen = make(map[string]bool)
	c.canMore = true
}
