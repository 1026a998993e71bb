package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/search"
	"github.com/sells-group/scout/internal/session"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

type fakeDiscovery struct {
	candidates []model.CompanyCandidate
	err        error
	calls      int
}

func (f *fakeDiscovery) Discover(context.Context, model.RoleContext) ([]model.CompanyCandidate, error) {
	f.calls++
	return f.candidates, f.err
}

type fakeResolver struct {
	ids map[string]int64
	err error
}

func (f *fakeResolver) ResolveAll(_ context.Context, cs []model.CompanyCandidate) ([]model.CompanyCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]model.CompanyCandidate, len(cs))
	for i, c := range cs {
		if id, ok := f.ids[c.Name]; ok {
			c.ResolvedID = &id
			c.ResolutionTier = model.TierExactName
		}
		out[i] = c
	}
	return out, nil
}

type fakeCollector struct {
	sessions *session.Repository
	ids      []string
	err      error
	query    signalhire.SearchQuery
}

func (f *fakeCollector) RunSearch(ctx context.Context, sessionID string, q signalhire.SearchQuery) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.query = q
	stage := model.StageCollecting
	if len(f.ids) == 0 {
		stage = model.StageDone
	}
	err := f.sessions.Update(ctx, sessionID, store.SessionUpdate{DiscoveredIDs: f.ids, Stage: &stage})
	return f.ids, err
}

func (f *fakeCollector) Collect(context.Context, string, int) (*search.CollectResult, error) {
	return &search.CollectResult{NoMore: true}, nil
}

type fakeAssessor struct{}

func (fakeAssessor) AssessBatch(_ context.Context, ids []string, _ string) []model.AssessmentOutcome {
	out := make([]model.AssessmentOutcome, len(ids))
	for i, id := range ids {
		out[i] = model.AssessmentOutcome{CandidateKey: id, Succeeded: true}
	}
	return out
}

type fixture struct {
	pipeline  *Pipeline
	sessions  *session.Repository
	discovery *fakeDiscovery
	collector *fakeCollector
}

func newFixture(t *testing.T, d *fakeDiscovery, r *fakeResolver) *fixture {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	sessions := session.NewRepository(st, session.DefaultTTL)
	c := &fakeCollector{sessions: sessions, ids: []string{"p1", "p2", "p3"}}
	return &fixture{
		pipeline:  New(d, r, c, fakeAssessor{}, sessions),
		sessions:  sessions,
		discovery: d,
		collector: c,
	}
}

func TestStart_ValidatesRole(t *testing.T) {
	f := newFixture(t, &fakeDiscovery{}, &fakeResolver{})

	_, err := f.pipeline.Start(context.Background(), model.RoleContext{})
	require.Error(t, err)

	id, err := f.pipeline.Start(context.Background(), model.RoleContext{Title: "Backend Engineer"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestRun_DrivesStagesThroughSearch(t *testing.T) {
	d := &fakeDiscovery{candidates: []model.CompanyCandidate{
		{Name: "Acme Corp", Source: model.SourceSeed},
		{Name: "Ghost Widgets", Source: model.SourceExpansion, Rank: 1},
	}}
	r := &fakeResolver{ids: map[string]int64{"Acme Corp": 101}}
	f := newFixture(t, d, r)

	id, err := f.pipeline.Start(context.Background(), model.RoleContext{Title: "Backend Engineer"})
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Run(context.Background(), id))

	status, err := f.pipeline.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StageCollecting, status.Stage)
	assert.Equal(t, 2, status.Companies)
	assert.Equal(t, 1, status.Resolved)
	assert.Equal(t, 3, status.Discovered)
	assert.Zero(t, status.Collected)

	// Resolved company contributes its ID, unresolved one its name.
	assert.Equal(t, []int64{101}, f.collector.query.CompanyIDs)
	assert.Equal(t, []string{"ghost widgets"}, f.collector.query.CompanyNames)
}

func TestRun_DiscoveryFailureMarksSessionFailed(t *testing.T) {
	d := &fakeDiscovery{err: eris.New("search upstream down")}
	f := newFixture(t, d, &fakeResolver{})

	id, err := f.pipeline.Start(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)
	require.Error(t, f.pipeline.Run(context.Background(), id))

	status, err := f.pipeline.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, status.Stage)
	assert.Contains(t, status.FailureReason, "search upstream down")
}

func TestRun_FailedSessionRestartsFromDiscovery(t *testing.T) {
	d := &fakeDiscovery{err: eris.New("transient")}
	f := newFixture(t, d, &fakeResolver{})

	id, err := f.pipeline.Start(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)
	require.Error(t, f.pipeline.Run(context.Background(), id))

	d.err = nil
	d.candidates = []model.CompanyCandidate{{Name: "Acme", Source: model.SourceSeed}}
	require.NoError(t, f.pipeline.Run(context.Background(), id))

	status, err := f.pipeline.Poll(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.StageCollecting, status.Stage)
	assert.Empty(t, status.FailureReason)
	assert.Equal(t, 2, d.calls)
}

func TestRun_CollectingSessionIsNoOp(t *testing.T) {
	d := &fakeDiscovery{candidates: []model.CompanyCandidate{{Name: "Acme"}}}
	f := newFixture(t, d, &fakeResolver{})

	id, err := f.pipeline.Start(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)
	require.NoError(t, f.pipeline.Run(context.Background(), id))
	require.NoError(t, f.pipeline.Run(context.Background(), id))

	assert.Equal(t, 1, d.calls)
}

func TestPoll_UnknownSession(t *testing.T) {
	f := newFixture(t, &fakeDiscovery{}, &fakeResolver{})
	_, err := f.pipeline.Poll(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, eris.Is(err, session.ErrNotFound))
}

func TestAssessBatch_Passthrough(t *testing.T) {
	f := newFixture(t, &fakeDiscovery{}, &fakeResolver{})
	outcomes := f.pipeline.AssessBatch(context.Background(), []string{"a", "b"}, "criteria")
	require.Len(t, outcomes, 2)
	assert.Equal(t, "a", outcomes[0].CandidateKey)
}
