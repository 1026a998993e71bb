// Package search implements the two-phase candidate paginator. Phase A runs
// the cheap identifier-only directory search and pins the result order into
// the session. Phase B materializes full profiles in small batches through
// the resource cache, throttled to the directory's collect quota, and only
// ever advances the session offset past candidates it actually delivered.
package search

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/session"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

// Config tunes the paginator.
type Config struct {
	MaxIDs       int
	DefaultCount int
	CollectRate  float64
	CollectBurst int
	Workers      int
}

func (c Config) withDefaults() Config {
	if c.MaxIDs <= 0 || c.MaxIDs > signalhire.MaxSearchIDs {
		c.MaxIDs = signalhire.MaxSearchIDs
	}
	if c.DefaultCount <= 0 {
		c.DefaultCount = 20
	}
	if c.CollectRate <= 0 {
		c.CollectRate = 10
	}
	if c.CollectBurst <= 0 {
		c.CollectBurst = 1
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	return c
}

// CollectResult is one Phase B batch.
type CollectResult struct {
	Profiles  []model.Profile `json:"profiles"`
	Remaining int             `json:"remaining"`
	NoMore    bool            `json:"no_more"`
}

// Paginator drives both phases against the directory.
type Paginator struct {
	directory signalhire.Client
	cache     *cache.Cache
	sessions  *session.Repository
	limiter   *rate.Limiter
	cfg       Config
}

// NewPaginator creates a paginator. The rate limiter is shared across all
// Phase B batches so concurrent sessions cannot multiply the collect rate.
func NewPaginator(directory signalhire.Client, c *cache.Cache, sessions *session.Repository, cfg Config) *Paginator {
	cfg = cfg.withDefaults()
	return &Paginator{
		directory: directory,
		cache:     c,
		sessions:  sessions,
		limiter:   rate.NewLimiter(rate.Limit(cfg.CollectRate), cfg.CollectBurst),
		cfg:       cfg,
	}
}

// RunSearch executes Phase A for the session: submit the compiled query,
// deduplicate the returned identifiers keeping first-seen order, and persist
// them. An identical query issued within the search freshness window is
// served from the resource cache. An empty result is not an error; the
// session simply completes with zero candidates.
func (p *Paginator) RunSearch(ctx context.Context, sessionID string, query signalhire.SearchQuery) ([]string, error) {
	key := searchKey(query)

	var ids []string
	state := cache.GetJSON(ctx, p.cache, cache.ClassSearch, key, &ids)
	cached := state == cache.Fresh || state == cache.Stale
	if !cached {
		fetched, err := p.directory.SearchIDs(ctx, query, p.cfg.MaxIDs)
		if err != nil {
			return nil, eris.Wrap(err, "search: id search")
		}
		ids = dedupeStable(fetched)
		cache.PutJSON(ctx, p.cache, cache.ClassSearch, key, ids)
	}

	stage := model.StageCollecting
	if len(ids) == 0 {
		stage = model.StageDone
	}
	if err := p.sessions.Update(ctx, sessionID, store.SessionUpdate{
		DiscoveredIDs: ids,
		Stage:         &stage,
	}); err != nil {
		return nil, err
	}

	zap.L().Info("search: ids fetched",
		zap.String("session_id", sessionID),
		zap.Int("count", len(ids)),
		zap.Bool("cached", cached),
	)
	return ids, nil
}

// searchKey derives the cache key for an ID search from the query itself.
// The compiler emits sorted clauses, so equal queries marshal identically.
func searchKey(q signalhire.SearchQuery) string {
	b, _ := json.Marshal(q)
	return string(b)
}

// Collect executes one Phase B batch: slice the next count identifiers from
// the session, serve each from cache when fresh or stale, fetch on miss, and
// advance the offset past the contiguous run of successes. Profiles fetched
// after a mid-batch failure stay cached, so the retry that re-covers them is
// free.
func (p *Paginator) Collect(ctx context.Context, sessionID string, count int) (*CollectResult, error) {
	if count <= 0 {
		count = p.cfg.DefaultCount
	}

	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	offset := sess.ProfilesOffset
	if offset >= len(sess.DiscoveredIDs) {
		return &CollectResult{NoMore: true}, nil
	}

	end := offset + count
	if end > len(sess.DiscoveredIDs) {
		end = len(sess.DiscoveredIDs)
	}
	window := sess.DiscoveredIDs[offset:end]

	profiles := make([]*model.Profile, len(window))
	var mu sync.Mutex
	var firstErr error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, id := range window {
		g.Go(func() error {
			prof, err := p.materialize(gctx, id)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				zap.L().Warn("search: profile collect failed",
					zap.String("session_id", sessionID),
					zap.String("candidate_id", id),
					zap.Error(err),
				)
				return nil
			}
			profiles[i] = prof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "search: collect batch")
	}

	// Deliver only the contiguous successful prefix so the offset never
	// skips a failed candidate.
	delivered := make([]model.Profile, 0, len(window))
	for _, prof := range profiles {
		if prof == nil {
			break
		}
		delivered = append(delivered, *prof)
	}

	if len(delivered) == 0 && firstErr != nil {
		return nil, eris.Wrap(firstErr, "search: no profiles materialized")
	}

	newOffset := offset + len(delivered)
	if len(delivered) > 0 {
		if err := p.sessions.AdvanceOffset(ctx, sessionID, newOffset); err != nil {
			return nil, err
		}
	}

	remaining := len(sess.DiscoveredIDs) - newOffset
	if remaining == 0 {
		if err := p.sessions.SetStage(ctx, sessionID, model.StageDone); err != nil {
			return nil, err
		}
	}

	return &CollectResult{
		Profiles:  delivered,
		Remaining: remaining,
		NoMore:    remaining == 0,
	}, nil
}

// Profile returns a single materialized profile through the cache, outside
// any session window. Used by the assessment engine.
func (p *Paginator) Profile(ctx context.Context, id string) (*model.Profile, error) {
	return p.materialize(ctx, id)
}

func (p *Paginator) materialize(ctx context.Context, id string) (*model.Profile, error) {
	var cached model.Profile
	state := cache.GetJSON(ctx, p.cache, cache.ClassProfile, id, &cached)
	if state == cache.Fresh || state == cache.Stale {
		return &cached, nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "search: collect throttle")
	}
	rec, err := p.directory.CollectProfile(ctx, id)
	if err != nil {
		return nil, err
	}

	prof := fromRecord(rec)
	cache.PutJSON(ctx, p.cache, cache.ClassProfile, id, prof)
	return &prof, nil
}

func fromRecord(rec *signalhire.ProfileRecord) model.Profile {
	return model.Profile{
		ID:         rec.ID,
		FullName:   rec.FullName,
		Title:      rec.Title,
		Employer:   rec.Employer,
		Location:   rec.Location,
		Skills:     rec.Skills,
		Summary:    rec.Summary,
		ProfileURL: rec.ProfileURL,
	}
}

func dedupeStable(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
