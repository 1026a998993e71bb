package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/config"
	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/pipeline"
	"github.com/sells-group/scout/internal/search"
	"github.com/sells-group/scout/internal/session"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

type stubDiscovery struct{}

func (stubDiscovery) Discover(context.Context, model.RoleContext) ([]model.CompanyCandidate, error) {
	return []model.CompanyCandidate{{Name: "Acme Corp", Source: model.SourceSeed}}, nil
}

type stubResolver struct{}

func (stubResolver) ResolveAll(_ context.Context, cs []model.CompanyCandidate) ([]model.CompanyCandidate, error) {
	return cs, nil
}

type stubCollector struct {
	sessions *session.Repository
}

func (s stubCollector) RunSearch(ctx context.Context, sessionID string, _ signalhire.SearchQuery) ([]string, error) {
	ids := []string{"c1", "c2"}
	stage := model.StageCollecting
	err := s.sessions.Update(ctx, sessionID, store.SessionUpdate{DiscoveredIDs: ids, Stage: &stage})
	return ids, err
}

func (s stubCollector) Collect(context.Context, string, int) (*search.CollectResult, error) {
	return &search.CollectResult{
		Profiles: []model.Profile{{ID: "c1", FullName: "Ada"}},
		NoMore:   true,
	}, nil
}

type stubAssessor struct{}

func (stubAssessor) AssessBatch(_ context.Context, ids []string, _ string) []model.AssessmentOutcome {
	out := make([]model.AssessmentOutcome, len(ids))
	for i, id := range ids {
		out[i] = model.AssessmentOutcome{CandidateKey: id, Score: 75, Succeeded: true}
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *env) {
	t.Helper()
	cfg = &config.Config{Server: config.ServerConfig{AllowedOrigins: []string{"*"}}}

	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	sessions := session.NewRepository(st, session.DefaultTTL)
	e := &env{
		Store:    st,
		Cache:    cache.New(st, nil),
		Sessions: sessions,
		Pipeline: pipeline.New(stubDiscovery{}, stubResolver{}, stubCollector{sessions: sessions}, stubAssessor{}, sessions),
	}

	srv := httptest.NewServer(newRouter(e))
	t.Cleanup(srv.Close)
	return srv, e
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStartPipeline_ReturnsSessionID(t *testing.T) {
	srv, e := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/pipelines", model.RoleContext{Title: "Backend Engineer"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body["session_id"])

	_, err := e.Sessions.Get(context.Background(), body["session_id"])
	assert.NoError(t, err)
}

func TestStartPipeline_InvalidRole(t *testing.T) {
	srv, _ := newTestServer(t)
	resp := postJSON(t, srv.URL+"/api/pipelines", model.RoleContext{})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCacheStats_ReportsActivity(t *testing.T) {
	srv, e := newTestServer(t)
	ctx := context.Background()

	cache.PutJSON(ctx, e.Cache, cache.ClassProfile, "p1", model.Profile{ID: "p1", FullName: "Ada"})
	var prof model.Profile
	require.Equal(t, cache.Fresh, cache.GetJSON(ctx, e.Cache, cache.ClassProfile, "p1", &prof))

	resp, err := http.Get(srv.URL + "/api/cache/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Process map[cache.Class]cache.Stats `json:"process"`
		Store   store.CacheStats            `json:"store"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, int64(1), body.Process[cache.ClassProfile].Hits)
	assert.Equal(t, int64(1), body.Store.Resources["profile"])
}

func TestPoll_UnknownSessionIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/pipelines/no-such-session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCollect_ReturnsBatch(t *testing.T) {
	srv, e := newTestServer(t)
	sess, err := e.Sessions.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/pipelines/"+sess.ID+"/collect", map[string]int{"count": 5})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res search.CollectResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Len(t, res.Profiles, 1)
	assert.Equal(t, "Ada", res.Profiles[0].FullName)
	assert.True(t, res.NoMore)
}

func TestAssess_RequiresCandidateIDs(t *testing.T) {
	srv, e := newTestServer(t)
	sess, err := e.Sessions.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/pipelines/"+sess.ID+"/assess", map[string]any{"criteria": "go"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAssess_ReturnsOutcomesInOrder(t *testing.T) {
	srv, e := newTestServer(t)
	sess, err := e.Sessions.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	resp := postJSON(t, srv.URL+"/api/pipelines/"+sess.ID+"/assess", map[string]any{
		"candidate_ids": []string{"c2", "c1"},
		"criteria":      "golang",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var outcomes []model.AssessmentOutcome
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&outcomes))
	require.Len(t, outcomes, 2)
	assert.Equal(t, "c2", outcomes[0].CandidateKey)
	assert.Equal(t, "c1", outcomes[1].CandidateKey)
}
