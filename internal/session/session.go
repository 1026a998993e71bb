// Package session manages the durable lifecycle of pipeline runs. Sessions
// are created at pipeline start, touched on every read, and reaped after a
// period of inactivity. The collection offset is guarded so concurrent
// collectors can only ever move it forward.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/store"
)

// ErrNotFound is returned for unknown or expired session IDs.
var ErrNotFound = eris.New("session: not found")

// DefaultTTL is how long a session survives without being accessed.
const DefaultTTL = 24 * time.Hour

// Repository persists sessions and enforces their lifecycle rules.
type Repository struct {
	store store.Store
	ttl   time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewRepository creates a session repository with the given inactivity TTL.
func NewRepository(st store.Store, ttl time.Duration) *Repository {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Repository{
		store: st,
		ttl:   ttl,
		locks: make(map[string]*sync.Mutex),
	}
}

// Create starts a new session for the role in the discovering stage.
func (r *Repository) Create(ctx context.Context, role model.RoleContext) (*model.SearchSession, error) {
	now := time.Now().UTC()
	s := &model.SearchSession{
		ID:             uuid.NewString(),
		Role:           role,
		Stage:          model.StageDiscovering,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		return nil, eris.Wrap(err, "session: create")
	}
	zap.L().Info("session created",
		zap.String("session_id", s.ID),
		zap.String("title", role.Title),
	)
	return s, nil
}

// Get returns the session and bumps its last-accessed time. Expired sessions
// are reaped on the way in, so an ID past its TTL behaves exactly like an
// unknown one.
func (r *Repository) Get(ctx context.Context, id string) (*model.SearchSession, error) {
	r.reap(ctx)
	s, err := r.store.GetSession(ctx, id)
	if store.IsNotFound(err) {
		return nil, eris.Wrapf(ErrNotFound, "session %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "session: get")
	}
	return s, nil
}

// Update applies a partial update to the session.
func (r *Repository) Update(ctx context.Context, id string, u store.SessionUpdate) error {
	err := r.store.UpdateSession(ctx, id, u)
	if store.IsNotFound(err) {
		return eris.Wrapf(ErrNotFound, "session %s", id)
	}
	return eris.Wrap(err, "session: update")
}

// SetStage transitions the session to the given stage.
func (r *Repository) SetStage(ctx context.Context, id string, stage model.Stage) error {
	return r.Update(ctx, id, store.SessionUpdate{Stage: &stage})
}

// Fail marks the session failed with a reason.
func (r *Repository) Fail(ctx context.Context, id, reason string) error {
	stage := model.StageFailed
	return r.Update(ctx, id, store.SessionUpdate{Stage: &stage, FailureReason: &reason})
}

// AdvanceOffset moves the collection offset forward to at least offset.
// The store clamps regressions, and a per-session lock keeps concurrent
// advances from interleaving reads with writes.
func (r *Repository) AdvanceOffset(ctx context.Context, id string, offset int) error {
	lock := r.sessionLock(id)
	lock.Lock()
	defer lock.Unlock()
	return r.Update(ctx, id, store.SessionUpdate{ProfilesOffset: &offset})
}

// DeleteExpired removes sessions past the inactivity TTL and returns how
// many were reaped.
func (r *Repository) DeleteExpired(ctx context.Context) (int, error) {
	n, err := r.store.DeleteExpiredSessions(ctx, r.ttl)
	if err != nil {
		return 0, eris.Wrap(err, "session: delete expired")
	}
	r.dropStaleLocks()
	return n, nil
}

func (r *Repository) reap(ctx context.Context) {
	n, err := r.DeleteExpired(ctx)
	if err != nil {
		zap.L().Warn("session: reap failed", zap.Error(err))
		return
	}
	if n > 0 {
		zap.L().Info("session: reaped expired", zap.Int("count", n))
	}
}

func (r *Repository) sessionLock(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks[id] == nil {
		r.locks[id] = &sync.Mutex{}
	}
	return r.locks[id]
}

// dropStaleLocks resets the lock table after a reap so it does not grow
// without bound. Live sessions recreate their lock on next advance.
func (r *Repository) dropStaleLocks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.locks) > 1024 {
		r.locks = make(map[string]*sync.Mutex)
	}
}
