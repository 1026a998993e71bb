// Package store persists the pipeline's durable state: the identity cache,
// the tiered resource cache, and search sessions. Two drivers implement the
// same interface: SQLite for local runs and Postgres for deployments.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scout/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = eris.New("store: not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool { return eris.Is(err, ErrNotFound) }

// ResourceRecord is one cached payload (profile, company, search result).
type ResourceRecord struct {
	Class     string    `json:"class"`
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// CacheStats aggregates the persisted cache state so hit accounting
// survives process restarts and short-lived CLI invocations.
type CacheStats struct {
	Resources map[string]int64 `json:"resources"` // entries per class
	Identity  IdentityStats    `json:"identity"`
}

// IdentityStats summarizes the identity cache.
type IdentityStats struct {
	Entries  int64 `json:"entries"`
	Hits     int64 `json:"hits"`
	Negative int64 `json:"negative"`
}

// SessionUpdate is a partial update applied to a session. Nil fields are
// left unchanged. ProfilesOffset is monotonic: the stored value never
// decreases, regardless of the value supplied here.
type SessionUpdate struct {
	Stage          *model.Stage
	FailureReason  *string
	Companies      []model.CompanyCandidate
	CompiledQuery  *string
	DiscoveredIDs  []string
	ProfilesOffset *int
}

// Store defines the persistence interface for the discovery pipeline.
type Store interface {
	// Identity cache. UpsertIdentity never demotes a successful resolution:
	// once an entry carries a resolved id, later negative writes are ignored.
	GetIdentity(ctx context.Context, normalizedName string) (*model.IdentityCacheEntry, error)
	UpsertIdentity(ctx context.Context, entry *model.IdentityCacheEntry) error
	IncrementIdentityHit(ctx context.Context, normalizedName string) error

	// Resource cache. Last-write-wins; entries are idempotent recomputations.
	GetResource(ctx context.Context, class, key string) (*ResourceRecord, error)
	PutResource(ctx context.Context, class, key string, payload []byte) error
	CacheStats(ctx context.Context) (*CacheStats, error)

	// Sessions. GetSession bumps last_accessed_at.
	CreateSession(ctx context.Context, s *model.SearchSession) error
	GetSession(ctx context.Context, id string) (*model.SearchSession, error)
	UpdateSession(ctx context.Context, id string, update SessionUpdate) error
	DeleteExpiredSessions(ctx context.Context, inactiveFor time.Duration) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
