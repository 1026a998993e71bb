package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout/internal/cache"
	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/store"
	"github.com/sells-group/scout/pkg/signalhire"
)

// fakeDirectory scripts directory responses and counts calls per tier.
type fakeDirectory struct {
	byDomain    map[string]*signalhire.CompanyMatch
	byName      map[string]*signalhire.CompanyMatch
	suggestions []signalhire.CompanyMatch
	companies   map[int64]*signalhire.CompanyRecord
	err         error

	domainCalls  int
	nameCalls    int
	suggestCalls int
	companyCalls int
}

func (f *fakeDirectory) ResolveByDomain(_ context.Context, domain string) (*signalhire.CompanyMatch, error) {
	f.domainCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byDomain[domain], nil
}

func (f *fakeDirectory) ResolveByName(_ context.Context, name string) (*signalhire.CompanyMatch, error) {
	f.nameCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.byName[name], nil
}

func (f *fakeDirectory) SuggestNames(_ context.Context, _ string, _ int) ([]signalhire.CompanyMatch, error) {
	f.suggestCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.suggestions, nil
}

func (f *fakeDirectory) SearchIDs(context.Context, signalhire.SearchQuery, int) ([]string, error) {
	return nil, nil
}

func (f *fakeDirectory) CollectProfile(context.Context, string) (*signalhire.ProfileRecord, error) {
	return nil, nil
}

func (f *fakeDirectory) CollectCompany(_ context.Context, id int64) (*signalhire.CompanyRecord, error) {
	f.companyCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.companies[id], nil
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func TestResolve_DomainTierWins(t *testing.T) {
	dir := &fakeDirectory{
		byDomain: map[string]*signalhire.CompanyMatch{
			"acme.com": {ID: 101, Name: "Acme Corp", Domain: "acme.com"},
		},
	}
	r := New(dir, newTestStore(t))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp", Domain: "acme.com"})
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedID)
	assert.Equal(t, int64(101), *got.ResolvedID)
	assert.Equal(t, model.TierWebsite, got.ResolutionTier)
	assert.Zero(t, dir.nameCalls)
}

func TestResolve_ExactNameFallback(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string]*signalhire.CompanyMatch{
			"Acme Corp": {ID: 102, Name: "Acme Corp"},
		},
	}
	r := New(dir, newTestStore(t))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp"})
	require.NoError(t, err)
	require.True(t, got.Resolved())
	assert.Equal(t, model.TierExactName, got.ResolutionTier)
}

func TestResolve_FuzzyTierRespectsThreshold(t *testing.T) {
	dir := &fakeDirectory{
		suggestions: []signalhire.CompanyMatch{
			{ID: 7, Name: "Completely Different Co"},
			{ID: 8, Name: "Acme Corporation"},
		},
	}
	r := New(dir, newTestStore(t))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp."})
	require.NoError(t, err)
	require.True(t, got.Resolved())
	assert.Equal(t, int64(8), *got.ResolvedID)
	assert.Equal(t, model.TierFuzzyName, got.ResolutionTier)
}

func TestResolve_FuzzyRejectsWeakSimilarity(t *testing.T) {
	dir := &fakeDirectory{
		suggestions: []signalhire.CompanyMatch{
			{ID: 9, Name: "Zenith Logistics Partners"},
		},
	}
	r := New(dir, newTestStore(t))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp"})
	require.NoError(t, err)
	assert.False(t, got.Resolved())
	assert.Equal(t, model.TierNone, got.ResolutionTier)
	// 1 for heuristic guess (domain tier skipped, no candidate domain)
	assert.Equal(t, 1, dir.domainCalls)
}

func TestResolve_HeuristicDomainGuess(t *testing.T) {
	dir := &fakeDirectory{
		byDomain: map[string]*signalhire.CompanyMatch{
			"bluerivertech.com": {ID: 55, Name: "Blue River Tech", Domain: "bluerivertech.com"},
		},
	}
	r := New(dir, newTestStore(t))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Blue River Tech, Inc."})
	require.NoError(t, err)
	require.True(t, got.Resolved())
	assert.Equal(t, model.TierHeuristic, got.ResolutionTier)
	assert.Equal(t, "bluerivertech.com", got.Domain)
}

func TestResolve_PositiveHitShortCircuits(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string]*signalhire.CompanyMatch{
			"Acme Corp": {ID: 102, Name: "Acme Corp"},
		},
	}
	st := newTestStore(t)
	r := New(dir, st)

	_, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp"})
	require.NoError(t, err)
	callsAfterFirst := dir.nameCalls

	// Different surface form, same normalized key.
	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "ACME, Inc."})
	require.NoError(t, err)
	require.True(t, got.Resolved())
	assert.Equal(t, int64(102), *got.ResolvedID)
	assert.Equal(t, callsAfterFirst, dir.nameCalls)

	entry, err := st.GetIdentity(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.HitCount)
}

func TestResolve_NegativeMemoizedDuringCooldown(t *testing.T) {
	dir := &fakeDirectory{}
	r := New(dir, newTestStore(t))

	_, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)
	suggestAfterFirst := dir.suggestCalls

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)
	assert.False(t, got.Resolved())
	assert.Equal(t, suggestAfterFirst, dir.suggestCalls)
}

func TestResolve_NegativeHitIncrementsCount(t *testing.T) {
	dir := &fakeDirectory{}
	st := newTestStore(t)
	r := New(dir, st)

	_, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)

	entry, err := st.GetIdentity(context.Background(), "ghost widgets")
	require.NoError(t, err)
	assert.True(t, entry.Negative())
	assert.Equal(t, int64(1), entry.HitCount)
}

func TestResolve_EnrichesFromCompanyRecord(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string]*signalhire.CompanyMatch{
			"Acme Corp": {ID: 102, Name: "Acme Corp"},
		},
		companies: map[int64]*signalhire.CompanyRecord{
			102: {ID: 102, Name: "Acme Corp", Domain: "acme.com", Industry: "Manufacturing", Headcount: 1200},
		},
	}
	st := newTestStore(t)
	r := New(dir, st, WithCache(cache.New(st, nil)))

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp"})
	require.NoError(t, err)
	assert.Equal(t, "acme.com", got.Domain)
	assert.Equal(t, "Manufacturing", got.Industry)
	assert.Equal(t, 1200, got.Headcount)
	assert.Equal(t, 1, dir.companyCalls)

	// Positive cache hit still enriches, served from the company cache.
	got, err = r.Resolve(context.Background(), model.CompanyCandidate{Name: "ACME, Inc."})
	require.NoError(t, err)
	assert.Equal(t, "Manufacturing", got.Industry)
	assert.Equal(t, 1, dir.companyCalls)
}

func TestResolve_NegativeRetriedAfterCooldown(t *testing.T) {
	dir := &fakeDirectory{}
	st := newTestStore(t)

	clock := time.Now()
	r := New(dir, st, WithNow(func() time.Time { return clock }))

	_, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)
	firstSuggests := dir.suggestCalls

	clock = clock.Add(DefaultNegativeCooldown + time.Hour)
	dir.byName = map[string]*signalhire.CompanyMatch{
		"Ghost Widgets": {ID: 31, Name: "Ghost Widgets"},
	}

	got, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Ghost Widgets"})
	require.NoError(t, err)
	require.True(t, got.Resolved())
	assert.GreaterOrEqual(t, dir.suggestCalls, firstSuggests)
}

func TestResolve_TransportErrorNotMemoized(t *testing.T) {
	dir := &fakeDirectory{err: eris.New("boom")}
	st := newTestStore(t)
	r := New(dir, st)

	_, err := r.Resolve(context.Background(), model.CompanyCandidate{Name: "Acme Corp"})
	require.Error(t, err)

	_, err = st.GetIdentity(context.Background(), "acme")
	assert.True(t, store.IsNotFound(err))
}

func TestResolveAll_PreservesOrder(t *testing.T) {
	dir := &fakeDirectory{
		byName: map[string]*signalhire.CompanyMatch{
			"Beta": {ID: 2, Name: "Beta"},
		},
	}
	r := New(dir, newTestStore(t))

	out, err := r.ResolveAll(context.Background(), []model.CompanyCandidate{
		{Name: "Alpha Nonexistent Ventures"},
		{Name: "Beta"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "Alpha Nonexistent Ventures", out[0].Name)
	assert.False(t, out[0].Resolved())
	assert.True(t, out[1].Resolved())
}
