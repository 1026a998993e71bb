// Package pipeline orchestrates a full discovery run: discover employers,
// resolve their identities, compile the directory query, and fetch the
// candidate ID list. Collection and assessment stay on-demand so callers
// pay for profiles only when they page through them. Every stage boundary
// is persisted, which is what makes runs resumable after a restart.
package pipeline

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/query"
	"github.com/sells-group/scout/internal/search"
	"github.com/sells-group/scout/internal/session"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

type discoverer interface {
	Discover(ctx context.Context, role model.RoleContext) ([]model.CompanyCandidate, error)
}

type companyResolver interface {
	ResolveAll(ctx context.Context, candidates []model.CompanyCandidate) ([]model.CompanyCandidate, error)
}

type collector interface {
	RunSearch(ctx context.Context, sessionID string, q signalhire.SearchQuery) ([]string, error)
	Collect(ctx context.Context, sessionID string, count int) (*search.CollectResult, error)
}

type assessor interface {
	AssessBatch(ctx context.Context, ids []string, criteria string) []model.AssessmentOutcome
}

// Status is the poll view of a session.
type Status struct {
	SessionID     string      `json:"session_id"`
	Stage         model.Stage `json:"stage"`
	Companies     int         `json:"companies"`
	Resolved      int         `json:"resolved"`
	Discovered    int         `json:"discovered"`
	Collected     int         `json:"collected"`
	Remaining     int         `json:"remaining"`
	FailureReason string      `json:"failure_reason,omitempty"`
}

// Pipeline wires the discovery stages together over the session store.
type Pipeline struct {
	discovery discoverer
	resolver  companyResolver
	paginator collector
	assess    assessor
	sessions  *session.Repository
	validate  *validator.Validate
}

// New creates a pipeline orchestrator.
func New(d discoverer, r companyResolver, p collector, a assessor, sessions *session.Repository) *Pipeline {
	return &Pipeline{
		discovery: d,
		resolver:  r,
		paginator: p,
		assess:    a,
		sessions:  sessions,
		validate:  validator.New(),
	}
}

// Start validates the role context and creates a new session in the
// discovering stage. It does not run any stage; call Run with the returned
// ID to drive the pipeline forward.
func (p *Pipeline) Start(ctx context.Context, role model.RoleContext) (string, error) {
	if err := p.validate.Struct(role); err != nil {
		return "", eris.Wrap(err, "pipeline: invalid role context")
	}
	sess, err := p.sessions.Create(ctx, role)
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

// Run drives the session from its current stage through the end of Phase A.
// A completed or collecting session is a no-op, so Run doubles as resume.
// Stage failures mark the session failed and return the error.
func (p *Pipeline) Run(ctx context.Context, sessionID string) error {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	switch sess.Stage {
	case model.StageDone, model.StageCollecting:
		return nil
	case model.StageFailed:
		// Failed runs restart from the top with a clean slate.
		stage := model.StageDiscovering
		noReason := ""
		if err := p.sessions.Update(ctx, sessionID, store.SessionUpdate{
			Stage:         &stage,
			FailureReason: &noReason,
		}); err != nil {
			return err
		}
		sess.Stage = model.StageDiscovering
		sess.Companies = nil
	}

	companies := sess.Companies
	if sess.Stage == model.StageDiscovering || len(companies) == 0 {
		companies, err = p.discovery.Discover(ctx, sess.Role)
		if err != nil {
			return p.fail(ctx, sessionID, err)
		}
		if err := p.sessions.Update(ctx, sessionID, store.SessionUpdate{Companies: companies}); err != nil {
			return err
		}
	}

	if err := p.sessions.SetStage(ctx, sessionID, model.StageResolving); err != nil {
		return err
	}
	companies, err = p.resolver.ResolveAll(ctx, companies)
	if err != nil {
		return p.fail(ctx, sessionID, err)
	}

	compiled := query.Compile(sess.Role, companies)
	canonical := query.Canonical(compiled)
	stage := model.StageSearching
	if err := p.sessions.Update(ctx, sessionID, store.SessionUpdate{
		Stage:         &stage,
		Companies:     companies,
		CompiledQuery: &canonical,
	}); err != nil {
		return err
	}

	ids, err := p.paginator.RunSearch(ctx, sessionID, compiled)
	if err != nil {
		return p.fail(ctx, sessionID, err)
	}

	zap.L().Info("pipeline: search phase complete",
		zap.String("session_id", sessionID),
		zap.Int("companies", len(companies)),
		zap.Int("candidate_ids", len(ids)),
	)
	return nil
}

// Poll reports the session's stage and progress counters.
func (p *Pipeline) Poll(ctx context.Context, sessionID string) (*Status, error) {
	sess, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	resolved := 0
	for _, c := range sess.Companies {
		if c.Resolved() {
			resolved++
		}
	}

	return &Status{
		SessionID:     sess.ID,
		Stage:         sess.Stage,
		Companies:     len(sess.Companies),
		Resolved:      resolved,
		Discovered:    len(sess.DiscoveredIDs),
		Collected:     sess.ProfilesOffset,
		Remaining:     sess.Remaining(),
		FailureReason: sess.FailureReason,
	}, nil
}

// CollectMore materializes the next batch of profiles for the session.
func (p *Pipeline) CollectMore(ctx context.Context, sessionID string, count int) (*search.CollectResult, error) {
	return p.paginator.Collect(ctx, sessionID, count)
}

// AssessBatch scores candidates against the criteria. Outcomes arrive in
// input order, one per candidate.
func (p *Pipeline) AssessBatch(ctx context.Context, ids []string, criteria string) []model.AssessmentOutcome {
	return p.assess.AssessBatch(ctx, ids, criteria)
}

func (p *Pipeline) fail(ctx context.Context, sessionID string, cause error) error {
	if err := p.sessions.Fail(ctx, sessionID, cause.Error()); err != nil {
		zap.L().Error("pipeline: failed to record failure",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	return cause
}
