// Package assess scores candidate profiles against role criteria with a
// bounded worker pool. Every submitted candidate yields exactly one outcome
// in input order; a slow or failing assessment only costs its own slot.
package assess

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/pkg/anthropic"
)

// profileSource materializes a full profile by candidate identifier.
type profileSource interface {
	Profile(ctx context.Context, id string) (*model.Profile, error)
}

// Config tunes the fan-out engine.
type Config struct {
	Workers     int
	TaskTimeout time.Duration
	BatchBudget time.Duration
	Model       string
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 15
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 90 * time.Second
	}
	if c.BatchBudget <= 0 {
		c.BatchBudget = 300 * time.Second
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5-20250929"
	}
	return c
}

// Engine fans assessment calls out over a bounded worker pool.
type Engine struct {
	profiles  profileSource
	generator anthropic.Client
	cfg       Config
}

// NewEngine creates an assessment engine.
func NewEngine(profiles profileSource, generator anthropic.Client, cfg Config) *Engine {
	return &Engine{profiles: profiles, generator: generator, cfg: cfg.withDefaults()}
}

// AssessBatch scores the given candidates against the criteria. The result
// always holds one outcome per input, in input order. Individual failures
// and timeouts are recorded in their outcome; the batch itself never errors.
func (e *Engine) AssessBatch(ctx context.Context, ids []string, criteria string) []model.AssessmentOutcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.BatchBudget)
	defer cancel()

	outcomes := make([]model.AssessmentOutcome, len(ids))
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			taskCtx, taskCancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
			defer taskCancel()
			outcomes[i] = e.assessOne(taskCtx, id, criteria)
			return nil
		})
	}
	_ = g.Wait() // tasks record their own failures

	failed := 0
	for _, o := range outcomes {
		if !o.Succeeded {
			failed++
		}
	}
	zap.L().Info("assess: batch complete",
		zap.Int("total", len(outcomes)),
		zap.Int("failed", failed),
	)
	return outcomes
}

func (e *Engine) assessOne(ctx context.Context, id, criteria string) model.AssessmentOutcome {
	outcome := model.AssessmentOutcome{CandidateKey: id}

	prof, err := e.profiles.Profile(ctx, id)
	if err != nil {
		outcome.Error = eris.Wrap(err, "assess: materialize profile").Error()
		return outcome
	}

	resp, err := e.generator.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.cfg.Model,
		MaxTokens: 1024,
		System: "You are a technical recruiter. Score the candidate against the " +
			"criteria from 0 to 100 and explain briefly. Respond with a JSON object: " +
			`{"score": <number>, "narrative": "<one paragraph>"}.`,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: assessPrompt(prof, criteria),
		}},
	})
	if err != nil {
		outcome.Error = eris.Wrap(err, "assess: generate").Error()
		return outcome
	}
	resp.Usage.LogCost(e.cfg.Model, "assess")

	score, narrative, err := parseAssessment(resp.Text)
	if err != nil {
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Score = score
	outcome.Narrative = narrative
	outcome.Succeeded = true
	return outcome
}

func assessPrompt(p *model.Profile, criteria string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Criteria: %s\n\nCandidate:\nName: %s\nTitle: %s\nEmployer: %s\nLocation: %s\n",
		criteria, p.FullName, p.Title, p.Employer, p.Location)
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	if p.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	}
	return b.String()
}

// parseAssessment extracts the first JSON object from model output and
// clamps the score to [0, 100].
func parseAssessment(text string) (float64, string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return 0, "", eris.New("assess: no JSON object in response")
	}
	var parsed struct {
		Score     float64 `json:"score"`
		Narrative string  `json:"narrative"`
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &parsed); err != nil {
		return 0, "", eris.Wrap(err, "assess: decode response")
	}
	if parsed.Score < 0 {
		parsed.Score = 0
	}
	if parsed.Score > 100 {
		parsed.Score = 100
	}
	return parsed.Score, parsed.Narrative, nil
}
