// Package resolve maps discovered employer names to trusted directory
// company IDs through a tiered cascade: homepage domain, exact name,
// fuzzy name suggestions, then a derived-domain heuristic. Every attempt
// is memoized, including misses, so repeated names never re-bill.
package resolve

import (
	"context"
	"strconv"
	"time"

	"github.com/agext/levenshtein"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

// DefaultFuzzyThreshold is the minimum name similarity for a fuzzy match.
const DefaultFuzzyThreshold = 0.84

// DefaultNegativeCooldown is how long a failed resolution stays memoized
// before the cascade is allowed to retry the name.
const DefaultNegativeCooldown = 168 * time.Hour

// Resolver runs the identity cascade against the people directory.
type Resolver struct {
	directory        signalhire.Client
	store            store.Store
	cache            *cache.Cache
	fuzzyThreshold   float64
	negativeCooldown time.Duration
	now              func() time.Time
}

// Option configures the resolver.
type Option func(*Resolver)

// WithFuzzyThreshold overrides the fuzzy match similarity floor.
func WithFuzzyThreshold(t float64) Option {
	return func(r *Resolver) { r.fuzzyThreshold = t }
}

// WithNegativeCooldown overrides how long misses are memoized.
func WithNegativeCooldown(d time.Duration) Option {
	return func(r *Resolver) { r.negativeCooldown = d }
}

// WithCache enables company-record enrichment through the resource cache.
func WithCache(c *cache.Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

// WithNow sets a fixed clock for testing.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// New creates a resolver backed by the directory client and identity store.
func New(directory signalhire.Client, st store.Store, opts ...Option) *Resolver {
	r := &Resolver{
		directory:        directory,
		store:            st,
		fuzzyThreshold:   DefaultFuzzyThreshold,
		negativeCooldown: DefaultNegativeCooldown,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve attaches a directory ID and resolution tier to the candidate.
// A miss is not an error: the candidate comes back with TierNone and no ID.
// Directory transport failures surface as errors and are never memoized.
func (r *Resolver) Resolve(ctx context.Context, candidate model.CompanyCandidate) (model.CompanyCandidate, error) {
	normalized := NormalizeName(candidate.Name)
	if normalized == "" {
		candidate.ResolutionTier = model.TierNone
		return candidate, nil
	}

	entry, err := r.store.GetIdentity(ctx, normalized)
	if err != nil && !store.IsNotFound(err) {
		return candidate, eris.Wrap(err, "resolve: read identity cache")
	}
	if entry != nil {
		if !entry.Negative() {
			candidate.ResolvedID = entry.ResolvedID
			candidate.ResolutionTier = entry.Tier
			if err := r.store.IncrementIdentityHit(ctx, normalized); err != nil {
				zap.L().Warn("resolve: hit count update failed", zap.Error(err))
			}
			r.enrich(ctx, &candidate)
			return candidate, nil
		}
		// CreatedAt is refreshed on every cascade attempt, so it marks the
		// last attempt; hit increments must not extend the cooldown.
		if r.now().Sub(entry.CreatedAt) < r.negativeCooldown {
			zap.L().Debug("resolve: negative cache hit",
				zap.String("name", candidate.Name),
				zap.Time("last_attempt", entry.CreatedAt),
			)
			if err := r.store.IncrementIdentityHit(ctx, normalized); err != nil {
				zap.L().Warn("resolve: hit count update failed", zap.Error(err))
			}
			candidate.ResolutionTier = model.TierNone
			return candidate, nil
		}
		// Cooldown elapsed, re-run the cascade.
	}

	match, tier, err := r.cascade(ctx, candidate, normalized)
	if err != nil {
		return candidate, err
	}

	record := &model.IdentityCacheEntry{
		NormalizedName: normalized,
		OriginalName:   candidate.Name,
		Tier:           model.TierNone,
	}
	if match != nil {
		record.ResolvedID = &match.ID
		record.Tier = tier
		candidate.ResolvedID = &match.ID
		candidate.ResolutionTier = tier
		if candidate.Domain == "" {
			candidate.Domain = match.Domain
		}
		r.enrich(ctx, &candidate)
	} else {
		candidate.ResolutionTier = model.TierNone
	}

	if err := r.store.UpsertIdentity(ctx, record); err != nil {
		zap.L().Warn("resolve: identity cache write failed",
			zap.String("name", candidate.Name),
			zap.Error(err),
		)
	}
	return candidate, nil
}

// ResolveAll runs the cascade over a candidate slice in place, preserving
// order. A directory transport failure aborts the batch.
func (r *Resolver) ResolveAll(ctx context.Context, candidates []model.CompanyCandidate) ([]model.CompanyCandidate, error) {
	out := make([]model.CompanyCandidate, len(candidates))
	for i, c := range candidates {
		resolved, err := r.Resolve(ctx, c)
		if err != nil {
			return nil, err
		}
		out[i] = resolved
	}
	return out, nil
}

// enrich fills descriptive company fields from the directory's full record,
// read through the company resource cache. A failed enrichment only costs
// detail; the resolution itself stands.
func (r *Resolver) enrich(ctx context.Context, candidate *model.CompanyCandidate) {
	if r.cache == nil || candidate.ResolvedID == nil {
		return
	}
	id := *candidate.ResolvedID
	key := strconv.FormatInt(id, 10)

	var rec signalhire.CompanyRecord
	state := cache.GetJSON(ctx, r.cache, cache.ClassCompany, key, &rec)
	if state != cache.Fresh && state != cache.Stale {
		got, err := r.directory.CollectCompany(ctx, id)
		if err != nil {
			zap.L().Warn("resolve: company record fetch failed",
				zap.Int64("company_id", id),
				zap.Error(err),
			)
			return
		}
		if got == nil {
			return
		}
		rec = *got
		cache.PutJSON(ctx, r.cache, cache.ClassCompany, key, rec)
	}

	if candidate.Domain == "" {
		candidate.Domain = rec.Domain
	}
	candidate.Industry = rec.Industry
	candidate.Headcount = rec.Headcount
}

func (r *Resolver) cascade(ctx context.Context, candidate model.CompanyCandidate, normalized string) (*signalhire.CompanyMatch, model.ResolutionTier, error) {
	type strategy struct {
		tier model.ResolutionTier
		run  func(context.Context) (*signalhire.CompanyMatch, error)
	}

	strategies := []strategy{
		{model.TierWebsite, func(ctx context.Context) (*signalhire.CompanyMatch, error) {
			if candidate.Domain == "" {
				return nil, nil
			}
			return r.directory.ResolveByDomain(ctx, candidate.Domain)
		}},
		{model.TierExactName, func(ctx context.Context) (*signalhire.CompanyMatch, error) {
			return r.directory.ResolveByName(ctx, candidate.Name)
		}},
		{model.TierFuzzyName, func(ctx context.Context) (*signalhire.CompanyMatch, error) {
			return r.fuzzyMatch(ctx, candidate.Name, normalized)
		}},
		{model.TierHeuristic, func(ctx context.Context) (*signalhire.CompanyMatch, error) {
			guess := DomainGuess(candidate.Name)
			if guess == "" || guess == candidate.Domain {
				return nil, nil
			}
			return r.directory.ResolveByDomain(ctx, guess)
		}},
	}

	for _, s := range strategies {
		match, err := s.run(ctx)
		if err != nil {
			return nil, model.TierNone, eris.Wrapf(err, "resolve: %s tier", s.tier)
		}
		if match != nil {
			zap.L().Debug("resolve: matched",
				zap.String("name", candidate.Name),
				zap.String("tier", string(s.tier)),
				zap.Int64("company_id", match.ID),
			)
			return match, s.tier, nil
		}
	}
	return nil, model.TierNone, nil
}

// fuzzyMatch asks the directory for approximate suggestions and accepts the
// most similar one at or above the threshold, comparing normalized names.
func (r *Resolver) fuzzyMatch(ctx context.Context, name, normalized string) (*signalhire.CompanyMatch, error) {
	suggestions, err := r.directory.SuggestNames(ctx, name, 5)
	if err != nil {
		return nil, err
	}

	var best *signalhire.CompanyMatch
	bestScore := r.fuzzyThreshold
	for i, s := range suggestions {
		score := levenshtein.Similarity(normalized, NormalizeName(s.Name), nil)
		if score >= bestScore {
			best = &suggestions[i]
			bestScore = score
		}
	}
	return best, nil
}
