// Package model holds the core domain types shared across the discovery
// and resolution pipeline.
package model

import "time"

// Stage represents the current state of a pipeline session.
type Stage string

const (
	StageDiscovering Stage = "discovering"
	StageResolving   Stage = "resolving"
	StageSearching   Stage = "searching"
	StageCollecting  Stage = "collecting"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// ResolutionTier identifies which strategy resolved an employer name.
type ResolutionTier string

const (
	TierWebsite   ResolutionTier = "website"
	TierExactName ResolutionTier = "exact_name"
	TierFuzzyName ResolutionTier = "fuzzy_name"
	TierHeuristic ResolutionTier = "heuristic"
	TierNone      ResolutionTier = "none"
)

// DiscoverySource describes how a company candidate entered the pipeline.
type DiscoverySource string

const (
	SourceSeed      DiscoverySource = "seed"
	SourceExpansion DiscoverySource = "expansion"
	SourceMention   DiscoverySource = "mention"
)

// RoleContext is the user-supplied description of the role being sourced.
type RoleContext struct {
	Title    string   `json:"title" validate:"required,min=2"`
	Industry string   `json:"industry,omitempty"`
	Location string   `json:"location,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
	Seeds    []string `json:"seeds,omitempty" validate:"max=25,dive,min=1"`
}

// CompanyCandidate is a discovered employer, optionally resolved against
// the people directory. Immutable once the pipeline run completes.
type CompanyCandidate struct {
	Name           string          `json:"name"`
	Domain         string          `json:"domain,omitempty"`
	Industry       string          `json:"industry,omitempty"`
	Headcount      int             `json:"headcount,omitempty"`
	Source         DiscoverySource `json:"source"`
	Rank           int             `json:"rank"`
	ResolvedID     *int64          `json:"resolved_id,omitempty"`
	ResolutionTier ResolutionTier  `json:"resolution_tier,omitempty"`
}

// Resolved reports whether the candidate has a trusted directory ID.
func (c CompanyCandidate) Resolved() bool {
	return c.ResolvedID != nil
}

// SearchSession is the durable record of one discovery-and-collection run.
// All mutation goes through the session repository; the collection offset
// only ever advances.
type SearchSession struct {
	ID             string             `json:"id"`
	Role           RoleContext        `json:"role"`
	Companies      []CompanyCandidate `json:"companies,omitempty"`
	CompiledQuery  string             `json:"compiled_query,omitempty"`
	DiscoveredIDs  []string           `json:"discovered_ids,omitempty"`
	ProfilesOffset int                `json:"profiles_offset"`
	Stage          Stage              `json:"stage"`
	FailureReason  string             `json:"failure_reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	LastAccessedAt time.Time          `json:"last_accessed_at"`
}

// Remaining returns how many discovered identifiers have not been collected.
func (s *SearchSession) Remaining() int {
	if s.ProfilesOffset >= len(s.DiscoveredIDs) {
		return 0
	}
	return len(s.DiscoveredIDs) - s.ProfilesOffset
}

// Profile is a materialized person profile from the directory.
type Profile struct {
	ID         string   `json:"id"`
	FullName   string   `json:"full_name"`
	Title      string   `json:"title,omitempty"`
	Employer   string   `json:"employer,omitempty"`
	Location   string   `json:"location,omitempty"`
	Skills     []string `json:"skills,omitempty"`
	Summary    string   `json:"summary,omitempty"`
	ProfileURL string   `json:"profile_url,omitempty"`
}

// AssessmentOutcome is the per-candidate result of the fan-out engine.
// Exactly one outcome is produced per input, even on failure.
type AssessmentOutcome struct {
	CandidateKey string  `json:"candidate_key"`
	Score        float64 `json:"score"`
	Narrative    string  `json:"narrative,omitempty"`
	Succeeded    bool    `json:"succeeded"`
	Error        string  `json:"error,omitempty"`
}

// IdentityCacheEntry memoizes one employer-name resolution attempt,
// including negative results.
type IdentityCacheEntry struct {
	NormalizedName string         `json:"normalized_name"`
	OriginalName   string         `json:"original_name"`
	ResolvedID     *int64         `json:"resolved_id,omitempty"`
	Tier           ResolutionTier `json:"resolution_tier"`
	HitCount       int64          `json:"hit_count"`
	CreatedAt      time.Time      `json:"created_at"`
	LastAccessedAt time.Time      `json:"last_accessed_at"`
}

// Negative reports whether the entry records a failed resolution.
func (e *IdentityCacheEntry) Negative() bool {
	return e.ResolvedID == nil
}
