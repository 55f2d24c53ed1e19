// Package resultcache memoizes analysis and scoring results keyed by a
// stable fingerprint. It owns the full CacheEntry lifecycle: created on
// first computation, read-incremented on hits, evicted on expiry or
// capacity pressure.
package resultcache

import (
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"signalcast/internal/models"
	logx "signalcast/pkg/logx"
)

// Fingerprint hashes the cacheable unit of work. Any change to the lexicon
// or the profile set changes the fingerprint space, so stale scores are
// never served across configuration changes.
func Fingerprint(normalizedText, languageTag, lexiconVersion, profileSetVersion string) string {
	h := fnv.New64a()
	for _, part := range []string{normalizedText, languageTag, lexiconVersion, profileSetVersion} {
		_, _ = h.Write([]byte(part))
		_, _ = h.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", h.Sum64())
}

// Value is the memoized payload for one fingerprint.
type Value struct {
	Analysis models.AnalysisResult
	Scored   []models.ScoredPlatform
}

type entry struct {
	val       Value
	expiresAt time.Time
	// lastAccess is UnixNano, updated atomically so concurrent readers
	// never take the write lock just to refresh recency.
	lastAccess atomic.Int64
	hitCount   atomic.Uint64
}

// Config controls cache behavior. Zero values fall back to defaults.
type Config struct {
	TTL      time.Duration // default 1h
	Capacity int           // default 4096
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.Capacity <= 0 {
		c.Capacity = 4096
	}
	return c
}

type Cache struct {
	cfg Config
	log logx.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	// flights serializes computation per fingerprint: at most one in
	// flight, late arrivals wait for its result.
	flightMu sync.Mutex
	flights  map[string]*flight

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	now func() time.Time
}

type flight struct {
	done chan struct{}
	val  Value
	err  error
}

func New(cfg Config, log logx.Logger) *Cache {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Cache{
		cfg:     cfg.withDefaults(),
		log:     log,
		entries: make(map[string]*entry),
		flights: make(map[string]*flight),
		now:     time.Now,
	}
}

// Get returns the cached value for fingerprint, if present and not
// expired. Expired entries are reclaimed lazily here.
func (c *Cache) Get(fingerprint string) (Value, bool) {
	now := c.now()

	c.mu.RLock()
	e := c.entries[fingerprint]
	c.mu.RUnlock()

	if e == nil {
		c.misses.Add(1)
		return Value{}, false
	}
	if now.After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Put may have
		// replaced the entry with a fresh one.
		if cur := c.entries[fingerprint]; cur == e {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return Value{}, false
	}

	e.lastAccess.Store(now.UnixNano())
	e.hitCount.Add(1)
	c.hits.Add(1)
	return e.val, true
}

// Put stores a value. ttl <= 0 uses the configured default.
func (c *Cache) Put(fingerprint string, val Value, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.TTL
	}
	now := c.now()
	e := &entry{val: val, expiresAt: now.Add(ttl)}
	e.lastAccess.Store(now.UnixNano())

	c.mu.Lock()
	if _, exists := c.entries[fingerprint]; !exists && len(c.entries) >= c.cfg.Capacity {
		c.evictOneLocked(now)
	}
	c.entries[fingerprint] = e
	c.mu.Unlock()
}

// Invalidate removes a fingerprint immediately.
func (c *Cache) Invalidate(fingerprint string) {
	c.mu.Lock()
	delete(c.entries, fingerprint)
	c.mu.Unlock()
}

// Do collapses concurrent computations for the same uncached fingerprint
// into exactly one call of fn. The winner's result is cached (on success)
// and handed to every waiter.
func (c *Cache) Do(fingerprint string, fn func() (Value, error)) (Value, error) {
	if v, ok := c.Get(fingerprint); ok {
		return v, nil
	}

	c.flightMu.Lock()
	if f, ok := c.flights[fingerprint]; ok {
		c.flightMu.Unlock()
		<-f.done
		return f.val, f.err
	}
	f := &flight{done: make(chan struct{})}
	c.flights[fingerprint] = f
	c.flightMu.Unlock()

	f.val, f.err = fn()
	if f.err == nil {
		c.Put(fingerprint, f.val, 0)
	}

	c.flightMu.Lock()
	delete(c.flights, fingerprint)
	c.flightMu.Unlock()
	close(f.done)

	return f.val, f.err
}

// Sweep reclaims expired entries. It is cheap enough to run from a
// periodic low-priority job.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for fp, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, fp)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.evictions.Add(uint64(removed))
		c.log.Debug("cache sweep", logx.Int("removed", removed))
	}
	return removed
}

// evictOneLocked drops the least-recently-used expired entry, falling
// back to the global least-recently-used one. Caller holds mu.
func (c *Cache) evictOneLocked(now time.Time) {
	var (
		victim        string
		victimAccess  int64
		expiredVictim string
		expiredAccess int64
	)
	for fp, e := range c.entries {
		la := e.lastAccess.Load()
		if victim == "" || la < victimAccess {
			victim, victimAccess = fp, la
		}
		if now.After(e.expiresAt) && (expiredVictim == "" || la < expiredAccess) {
			expiredVictim, expiredAccess = fp, la
		}
	}
	if expiredVictim != "" {
		victim = expiredVictim
	}
	if victim != "" {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Stats is a point-in-time view for diagnostics.
type Stats struct {
	Size      int    `json:"size"`
	Capacity  int    `json:"capacity"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Size:      size,
		Capacity:  c.cfg.Capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// HitCount reports how many times a fingerprint has been read.
func (c *Cache) HitCount(fingerprint string) uint64 {
	c.mu.RLock()
	e := c.entries[fingerprint]
	c.mu.RUnlock()
	if e == nil {
		return 0
	}
	return e.hitCount.Load()
}
