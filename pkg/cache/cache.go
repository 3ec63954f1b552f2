package cache

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Loader produces a fresh value for a key.
type Loader[V any] func(ctx context.Context) (V, error)

// Fingerprint identifies the current version of a value's source, such as
// a file's modification time. A changed fingerprint invalidates the entry.
type Fingerprint func() (string, error)

type entry[V any] struct {
	value       V
	loadedAt    time.Time
	fingerprint string
}

// Cache memoises loaded values by logical name. Entries expire after their
// TTL or when the fingerprint of their source changes.
type Cache[V any] struct {
	mu      sync.Mutex
	entries *lru.Cache[string, entry[V]]
	now     func() time.Time
}

func New[V any](size int) (*Cache[V], error) {
	entries, err := lru.New[string, entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru: %w", err)
	}
	return &Cache[V]{entries: entries, now: time.Now}, nil
}

// GetOrLoad returns the cached value of key, loading it if it is missing,
// older than ttl or its fingerprint changed. A zero ttl never expires and a
// nil fingerprint is never checked. Failed loads are not cached.
func (c *Cache[V]) GetOrLoad(
	ctx context.Context,
	key string,
	loader Loader[V],
	ttl time.Duration,
	fingerprint Fingerprint,
) (V, error) {
	var fp string
	if fingerprint != nil {
		var err error
		fp, err = fingerprint()
		if err != nil {
			var zero V
			return zero, fmt.Errorf("failed to fingerprint %q: %w", key, err)
		}
	}

	c.mu.Lock()
	e, ok := c.entries.Get(key)
	now := c.now()
	c.mu.Unlock()
	if ok && (ttl <= 0 || now.Sub(e.loadedAt) < ttl) && e.fingerprint == fp {
		return e.value, nil
	}

	value, err := loader(ctx)
	if err != nil {
		var zero V
		return zero, err
	}

	c.mu.Lock()
	c.entries.Add(key, entry[V]{value: value, loadedAt: c.now(), fingerprint: fp})
	c.mu.Unlock()
	return value, nil
}

// Invalidate drops the entry of key and reports whether it was present.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Remove(key)
}

func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Purge()
}

func (c *Cache[V]) Len() int {
	return c.entries.Len()
}

// FileFingerprint fingerprints a file by modification time and size.
func FileFingerprint(path string) Fingerprint {
	return func() (string, error) {
		info, err := os.Stat(path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
	}
}
