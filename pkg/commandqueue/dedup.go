package commandqueue

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	value     string
	timestamp time.Time
}

// DedupCache maps idempotency keys to the id of the work they started,
// for a bounded time.
type DedupCache struct {
	entries map[string]*dedupEntry
	ttl     time.Duration
	mu      sync.RWMutex
	cancel  context.CancelFunc
	done    chan struct{}
	now     func() time.Time
}

// NewDedupCache creates a cache and starts its sweeper. ttl <= 0 selects
// five minutes.
func NewDedupCache(ctx context.Context, ttl time.Duration) *DedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &DedupCache{
		entries: make(map[string]*dedupEntry),
		ttl:     ttl,
		cancel:  cancel,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go cache.cleanup(ctx)

	return cache
}

// Stop ends the sweeper.
func (dc *DedupCache) Stop() {
	dc.cancel()
	<-dc.done
}

// Get returns the value stored under key if it has not expired.
func (dc *DedupCache) Get(key string) (string, bool) {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	entry, exists := dc.entries[key]
	if !exists || dc.now().Sub(entry.timestamp) > dc.ttl {
		return "", false
	}
	return entry.value, true
}

// Remember stores value under key unless a live entry exists, and returns
// the value that is now associated with key.
func (dc *DedupCache) Remember(key, value string) (string, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	if entry, ok := dc.entries[key]; ok && now.Sub(entry.timestamp) <= dc.ttl {
		return entry.value, false
	}
	dc.entries[key] = &dedupEntry{value: value, timestamp: now}
	return value, true
}

// Forget removes key.
func (dc *DedupCache) Forget(key string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	delete(dc.entries, key)
}

func (dc *DedupCache) cleanup(ctx context.Context) {
	defer close(dc.done)

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dc.sweep()
		}
	}
}

func (dc *DedupCache) sweep() {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	now := dc.now()
	for key, entry := range dc.entries {
		if now.Sub(entry.timestamp) > dc.ttl {
			delete(dc.entries, key)
		}
	}
}

// Size returns the number of entries in the cache
func (dc *DedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}
