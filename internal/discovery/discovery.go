// Package discovery expands a role context into a ranked list of employer
// candidates: seed companies pass through directly, web search grows the
// list with similar and adjacent employers, and a generative pass filters
// out implausible names before resolution.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/resolve"
	"github.com/sells-group/scout/pkg/anthropic"
	"github.com/sells-group/scout/pkg/jina"
)

// companyResolver attaches directory IDs to discovered candidates.
type companyResolver interface {
	ResolveAll(ctx context.Context, candidates []model.CompanyCandidate) ([]model.CompanyCandidate, error)
}

// Config tunes the discovery engine.
type Config struct {
	MaxCandidates  int
	SearchRate     float64
	SkipValidation bool
	Model          string
}

func (c Config) withDefaults() Config {
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 100
	}
	if c.SearchRate <= 0 {
		c.SearchRate = 2
	}
	if c.Model == "" {
		c.Model = "claude-haiku-4-5-20251001"
	}
	return c
}

// Engine discovers employer candidates for a role.
type Engine struct {
	search    jina.Client
	generator anthropic.Client
	resolver  companyResolver
	limiter   *rate.Limiter
	cfg       Config
}

// NewEngine creates a discovery engine. The resolver may be nil, in which
// case candidates are returned unresolved.
func NewEngine(search jina.Client, generator anthropic.Client, resolver companyResolver, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		search:    search,
		generator: generator,
		resolver:  resolver,
		limiter:   rate.NewLimiter(rate.Limit(cfg.SearchRate), 1),
		cfg:       cfg,
	}
}

// Discover runs the full expansion: seeds, web search, plausibility
// validation, ranking, and resolution. Individual search or validation
// failures degrade gracefully; only a total absence of candidates is an
// error.
func (e *Engine) Discover(ctx context.Context, role model.RoleContext) ([]model.CompanyCandidate, error) {
	candidates := make([]model.CompanyCandidate, 0, e.cfg.MaxCandidates)
	for i, seed := range role.Seeds {
		candidates = append(candidates, model.CompanyCandidate{
			Name:   seed,
			Source: model.SourceSeed,
			Rank:   i,
		})
	}

	candidates = append(candidates, e.expand(ctx, role)...)
	candidates = dedupe(candidates)

	if len(candidates) == 0 {
		return nil, eris.New("discovery: no candidates found for role")
	}

	if !e.cfg.SkipValidation && e.generator != nil {
		candidates = e.validate(ctx, role, candidates)
	}

	candidates = rank(candidates)
	if len(candidates) > e.cfg.MaxCandidates {
		candidates = candidates[:e.cfg.MaxCandidates]
	}

	zap.L().Info("discovery: candidate list built",
		zap.String("title", role.Title),
		zap.Int("seeds", len(role.Seeds)),
		zap.Int("candidates", len(candidates)),
	)

	if e.resolver == nil {
		return candidates, nil
	}
	resolved, err := e.resolver.ResolveAll(ctx, candidates)
	if err != nil {
		return nil, eris.Wrap(err, "discovery: resolve candidates")
	}
	return resolved, nil
}

// expand runs one similarity search per seed plus a role-shaped search, and
// harvests employer names from the results. A failed search is logged and
// skipped.
func (e *Engine) expand(ctx context.Context, role model.RoleContext) []model.CompanyCandidate {
	queries := make([]string, 0, len(role.Seeds)+1)
	for _, seed := range role.Seeds {
		queries = append(queries, fmt.Sprintf("companies similar to %s", seed))
	}
	queries = append(queries, roleQuery(role))

	var out []model.CompanyCandidate
	next := 0
	for _, q := range queries {
		if err := e.limiter.Wait(ctx); err != nil {
			zap.L().Warn("discovery: search throttle interrupted", zap.Error(err))
			return out
		}
		results, err := e.search.Search(ctx, q)
		if err != nil {
			zap.L().Warn("discovery: search failed",
				zap.String("query", q),
				zap.Error(err),
			)
			continue
		}
		for _, name := range harvestNames(results) {
			out = append(out, model.CompanyCandidate{
				Name:   name,
				Source: model.SourceExpansion,
				Rank:   next,
			})
			next++
		}
		for _, name := range harvestMentions(results) {
			out = append(out, model.CompanyCandidate{
				Name:   name,
				Source: model.SourceMention,
				Rank:   next,
			})
			next++
		}
	}
	return out
}

func roleQuery(role model.RoleContext) string {
	parts := []string{"companies hiring", role.Title}
	if role.Industry != "" {
		parts = append(parts, "in "+role.Industry)
	}
	if role.Location != "" {
		parts = append(parts, role.Location)
	}
	return strings.Join(parts, " ")
}

// harvestNames pulls employer names out of search result titles. Titles
// arrive as "Company - page description" or "Company | site"; everything
// after the first separator is discarded.
func harvestNames(results []jina.SearchResult) []string {
	var names []string
	for _, r := range results {
		name := r.Title
		for _, sep := range []string{" - ", " – ", " | ", ": "} {
			if idx := strings.Index(name, sep); idx > 0 {
				name = name[:idx]
			}
		}
		name = strings.TrimSpace(name)
		if name == "" || len(name) > 80 {
			continue
		}
		names = append(names, name)
	}
	return names
}

var mentionPattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9&'.]*(?: [A-Z][A-Za-z0-9&'.]*){1,3}\b`)

// mentionStopwords filters capitalized phrases that start a sentence or a
// listicle headline rather than name a company.
var mentionStopwords = map[string]struct{}{
	"The": {}, "A": {}, "An": {}, "This": {}, "These": {}, "Those": {},
	"How": {}, "Why": {}, "What": {}, "Who": {}, "When": {}, "Where": {},
	"Top": {}, "Best": {}, "Most": {}, "More": {}, "Our": {}, "Your": {},
	"Their": {}, "Here": {}, "There": {}, "It": {}, "If": {}, "In": {},
	"On": {}, "At": {}, "For": {}, "With": {}, "From": {}, "And": {},
	"But": {}, "Or": {}, "As": {}, "We": {}, "You": {}, "They": {},
}

// harvestMentions scans result snippets for capitalized multi-word phrases
// that read like company names. Mentions are the lowest-confidence source;
// the validation pass is expected to discard the noise they carry.
func harvestMentions(results []jina.SearchResult) []string {
	const perResult = 5
	var names []string
	for _, r := range results {
		found := 0
		for _, m := range mentionPattern.FindAllString(r.Description, -1) {
			if found == perResult {
				break
			}
			first, _, _ := strings.Cut(m, " ")
			if _, skip := mentionStopwords[first]; skip {
				continue
			}
			if len(m) > 80 {
				continue
			}
			names = append(names, m)
			found++
		}
	}
	return names
}

// validate asks the generative model which candidates are plausible real
// employers for the role. Seeds are always kept. On any model or parse
// failure the full list passes through unchanged.
func (e *Engine) validate(ctx context.Context, role model.RoleContext, candidates []model.CompanyCandidate) []model.CompanyCandidate {
	names := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.Source != model.SourceSeed {
			names = append(names, c.Name)
		}
	}
	if len(names) == 0 {
		return candidates
	}

	prompt := fmt.Sprintf(
		"Role: %s. Industry: %s. From the list below, return a JSON array of the "+
			"entries that are plausible real company names (not articles, job "+
			"boards, or page titles). Return only the JSON array.\n\n%s",
		role.Title, role.Industry, strings.Join(names, "\n"))

	resp, err := e.generator.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: 2048,
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		zap.L().Warn("discovery: validation call failed, keeping all candidates", zap.Error(err))
		return candidates
	}
	resp.Usage.LogCost(e.cfg.Model, "discovery_validate")

	kept, err := parseNameArray(resp.Text)
	if err != nil {
		zap.L().Warn("discovery: validation response unparseable, keeping all candidates", zap.Error(err))
		return candidates
	}

	keptSet := make(map[string]struct{}, len(kept))
	for _, n := range kept {
		keptSet[resolve.NormalizeName(n)] = struct{}{}
	}

	out := candidates[:0]
	for _, c := range candidates {
		if c.Source == model.SourceSeed {
			out = append(out, c)
			continue
		}
		if _, ok := keptSet[resolve.NormalizeName(c.Name)]; ok {
			out = append(out, c)
		}
	}
	return out
}

// parseNameArray extracts the first JSON string array from model output.
func parseNameArray(text string) ([]string, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.New("discovery: no JSON array in response")
	}
	var names []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &names); err != nil {
		return nil, eris.Wrap(err, "discovery: decode name array")
	}
	return names, nil
}

// dedupe keeps the first occurrence per normalized name, preferring seeds
// over expansion hits when both appear.
func dedupe(candidates []model.CompanyCandidate) []model.CompanyCandidate {
	index := make(map[string]int, len(candidates))
	var out []model.CompanyCandidate
	for _, c := range candidates {
		key := resolve.NormalizeName(c.Name)
		if key == "" {
			continue
		}
		if i, seen := index[key]; seen {
			if c.Source == model.SourceSeed && out[i].Source != model.SourceSeed {
				out[i].Source = model.SourceSeed
				out[i].Rank = c.Rank
			}
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}

var sourceWeight = map[model.DiscoverySource]int{
	model.SourceSeed:      0,
	model.SourceExpansion: 1,
	model.SourceMention:   2,
}

// rank orders candidates by source confidence then discovery order, and
// rewrites Rank to the final position.
func rank(candidates []model.CompanyCandidate) []model.CompanyCandidate {
	sort.SliceStable(candidates, func(i, j int) bool {
		if sourceWeight[candidates[i].Source] != sourceWeight[candidates[j].Source] {
			return sourceWeight[candidates[i].Source] < sourceWeight[candidates[j].Source]
		}
		return candidates[i].Rank < candidates[j].Rank
	})
	for i := range candidates {
		candidates[i].Rank = i
	}
	return candidates
}
