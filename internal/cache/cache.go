// Package cache implements the tiered freshness cache that backs identity
// resolution, discovery, and profile collection. Every resource class
// declares its own fresh / stale-but-usable / expired thresholds; a broken
// or unavailable store always degrades to a miss, never to an error.
package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/scout/internal/store"
)

// Class names a cached resource category with its own freshness policy.
type Class string

const (
	ClassProfile  Class = "profile"
	ClassCompany  Class = "company"
	ClassSearch   Class = "search"
	ClassIdentity Class = "identity"
)

// State describes how usable a cached payload is.
type State int

const (
	Miss State = iota
	Fresh
	Stale // serve now, caller may refresh in the background
	Expired
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return "miss"
	}
}

// Stats holds per-class hit/miss accounting. Accounting only; callers must
// not branch on it.
type Stats struct {
	Hits   int64 `json:"hits"`
	Stale  int64 `json:"stale"`
	Misses int64 `json:"misses"`
}

type counters struct {
	hits   atomic.Int64
	stale  atomic.Int64
	misses atomic.Int64
}

// Cache is a tiered read-through cache over the persistent store.
type Cache struct {
	store    store.Store
	policies map[Class]Policy
	stats    map[Class]*counters
}

// New creates a cache with the given policies. Classes without an explicit
// policy fall back to DefaultPolicies.
func New(st store.Store, policies map[Class]Policy) *Cache {
	merged := DefaultPolicies()
	for class, p := range policies {
		merged[class] = p
	}

	stats := make(map[Class]*counters, len(merged))
	for class := range merged {
		stats[class] = &counters{}
	}

	return &Cache{store: st, policies: merged, stats: stats}
}

// Get returns the cached payload with its age and freshness state. Store
// failures are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, class Class, key string) ([]byte, time.Duration, State) {
	rec, err := c.store.GetResource(ctx, string(class), key)
	if err != nil {
		if !store.IsNotFound(err) {
			zap.L().Warn("cache: store read failed, treating as miss",
				zap.String("class", string(class)),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		c.count(class).misses.Add(1)
		return nil, 0, Miss
	}

	age := time.Since(rec.FetchedAt)
	state := c.policy(class).Evaluate(age)

	switch state {
	case Fresh:
		c.count(class).hits.Add(1)
	case Stale:
		c.count(class).stale.Add(1)
	default:
		c.count(class).misses.Add(1)
	}

	if state == Expired {
		return nil, age, Expired
	}
	return rec.Payload, age, state
}

// Put stores a payload under the class/key pair. Write failures are logged,
// not returned: a failed cache write only costs a future re-fetch.
func (c *Cache) Put(ctx context.Context, class Class, key string, payload []byte) {
	if err := c.store.PutResource(ctx, string(class), key, payload); err != nil {
		zap.L().Warn("cache: store write failed",
			zap.String("class", string(class)),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}

// Stats returns a snapshot of per-class counters.
func (c *Cache) Stats() map[Class]Stats {
	out := make(map[Class]Stats, len(c.stats))
	for class, ctr := range c.stats {
		out[class] = Stats{
			Hits:   ctr.hits.Load(),
			Stale:  ctr.stale.Load(),
			Misses: ctr.misses.Load(),
		}
	}
	return out
}

func (c *Cache) policy(class Class) Policy {
	if p, ok := c.policies[class]; ok {
		return p
	}
	return DefaultPolicies()[ClassProfile]
}

func (c *Cache) count(class Class) *counters {
	if ctr, ok := c.stats[class]; ok {
		return ctr
	}
	// Unregistered class: account under a lazily shared bucket is not worth
	// a lock; just return a throwaway counter.
	return &counters{}
}

// GetJSON reads a cached value and unmarshals it into v. A payload that no
// longer unmarshals is treated as a miss.
func GetJSON[T any](ctx context.Context, c *Cache, class Class, key string, v *T) State {
	payload, _, state := c.Get(ctx, class, key)
	if state == Miss || state == Expired {
		return state
	}
	if err := json.Unmarshal(payload, v); err != nil {
		zap.L().Warn("cache: corrupt payload, treating as miss",
			zap.String("class", string(class)),
			zap.String("key", key),
			zap.Error(err),
		)
		return Miss
	}
	return state
}

// PutJSON marshals v and stores it. Marshal failures are logged and dropped.
func PutJSON[T any](ctx context.Context, c *Cache, class Class, key string, v T) {
	payload, err := json.Marshal(v)
	if err != nil {
		zap.L().Warn("cache: marshal failed",
			zap.String("class", string(class)),
			zap.String("key", key),
			zap.Error(err),
		)
		return
	}
	c.Put(ctx, class, key, payload)
}
