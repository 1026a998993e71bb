package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/store"
)

// fakeStore implements store.Store in memory with controllable failures and
// timestamps.
type fakeStore struct {
	resources map[string]store.ResourceRecord
	failReads bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{resources: make(map[string]store.ResourceRecord)}
}

func (f *fakeStore) GetResource(_ context.Context, class, key string) (*store.ResourceRecord, error) {
	if f.failReads {
		return nil, assertErr
	}
	rec, ok := f.resources[class+"/"+key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeStore) PutResource(_ context.Context, class, key string, payload []byte) error {
	f.resources[class+"/"+key] = store.ResourceRecord{
		Class: class, Key: key, Payload: payload, FetchedAt: time.Now().UTC(),
	}
	return nil
}

func (f *fakeStore) age(class, key string, by time.Duration) {
	k := class + "/" + key
	rec := f.resources[k]
	rec.FetchedAt = rec.FetchedAt.Add(-by)
	f.resources[k] = rec
}

// Unused interface methods.
func (f *fakeStore) GetIdentity(context.Context, string) (*model.IdentityCacheEntry, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) UpsertIdentity(context.Context, *model.IdentityCacheEntry) error { return nil }
func (f *fakeStore) IncrementIdentityHit(context.Context, string) error              { return nil }
func (f *fakeStore) CreateSession(context.Context, *model.SearchSession) error       { return nil }
func (f *fakeStore) GetSession(context.Context, string) (*model.SearchSession, error) {
	return nil, store.ErrNotFound
}
func (f *fakeStore) UpdateSession(context.Context, string, store.SessionUpdate) error { return nil }
func (f *fakeStore) CacheStats(context.Context) (*store.CacheStats, error) {
	return &store.CacheStats{}, nil
}
func (f *fakeStore) DeleteExpiredSessions(context.Context, time.Duration) (int, error) {
	return 0, nil
}
func (f *fakeStore) Migrate(context.Context) error { return nil }
func (f *fakeStore) Close() error                  { return nil }

var assertErr = &fakeErr{}

type fakeErr struct{}

func (*fakeErr) Error() string { return "store exploded" }

func TestCache_MissThenHit(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, nil)
	ctx := context.Background()

	_, _, state := c.Get(ctx, ClassProfile, "p1")
	assert.Equal(t, Miss, state)

	c.Put(ctx, ClassProfile, "p1", []byte(`{"id":"p1"}`))

	payload, age, state := c.Get(ctx, ClassProfile, "p1")
	assert.Equal(t, Fresh, state)
	assert.Equal(t, []byte(`{"id":"p1"}`), payload)
	assert.Less(t, age, time.Minute)

	stats := c.Stats()[ClassProfile]
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestCache_StaleAndExpired(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, nil)
	ctx := context.Background()

	c.Put(ctx, ClassProfile, "p1", []byte(`{}`))
	fs.age("profile", "p1", 100*time.Hour) // past fresh (72h), within stale (168h)

	payload, _, state := c.Get(ctx, ClassProfile, "p1")
	assert.Equal(t, Stale, state)
	assert.NotNil(t, payload)

	fs.age("profile", "p1", 200*time.Hour) // past stale
	payload, _, state = c.Get(ctx, ClassProfile, "p1")
	assert.Equal(t, Expired, state)
	assert.Nil(t, payload)
}

func TestCache_IdentityNeverExpires(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, nil)
	ctx := context.Background()

	c.Put(ctx, ClassIdentity, "acme", []byte(`12345`))
	fs.age("identity", "acme", 24*365*time.Hour)

	_, _, state := c.Get(ctx, ClassIdentity, "acme")
	assert.Equal(t, Fresh, state)
}

func TestCache_StoreFailureIsMiss(t *testing.T) {
	fs := newFakeStore()
	fs.failReads = true
	c := New(fs, nil)

	_, _, state := c.Get(context.Background(), ClassProfile, "p1")
	assert.Equal(t, Miss, state)
}

func TestCache_CorruptPayloadIsMiss(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, nil)
	ctx := context.Background()

	c.Put(ctx, ClassProfile, "p1", []byte(`{not json`))

	var p model.Profile
	state := GetJSON(ctx, c, ClassProfile, "p1", &p)
	assert.Equal(t, Miss, state)
}

func TestCache_JSONRoundTrip(t *testing.T) {
	fs := newFakeStore()
	c := New(fs, nil)
	ctx := context.Background()

	PutJSON(ctx, c, ClassProfile, "p1", model.Profile{ID: "p1", FullName: "Ada Lovelace"})

	var p model.Profile
	state := GetJSON(ctx, c, ClassProfile, "p1", &p)
	assert.Equal(t, Fresh, state)
	assert.Equal(t, "Ada Lovelace", p.FullName)
}

func TestPolicy_Evaluate(t *testing.T) {
	p := Policy{FreshHours: 24, StaleHours: 72}

	assert.Equal(t, Fresh, p.Evaluate(time.Hour))
	assert.Equal(t, Fresh, p.Evaluate(24*time.Hour))
	assert.Equal(t, Stale, p.Evaluate(48*time.Hour))
	assert.Equal(t, Expired, p.Evaluate(100*time.Hour))

	indefinite := Policy{}
	assert.Equal(t, Fresh, indefinite.Evaluate(24*365*time.Hour))
}

func TestLoadPolicies_EmptyPathUsesDefaults(t *testing.T) {
	policies, err := LoadPolicies("")
	require.NoError(t, err)
	assert.Equal(t, 72, policies[ClassProfile].FreshHours)
	assert.Equal(t, 720, policies[ClassCompany].FreshHours)
}

func TestLoadPolicies_FileOverride(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/policies.yaml"
	content := "classes:\n  profile:\n    fresh_hours: 1\n    stale_hours: 2\n"
	require.NoError(t, writeFile(path, content))

	policies, err := LoadPolicies(path)
	require.NoError(t, err)
	assert.Equal(t, 1, policies[ClassProfile].FreshHours)
	// Untouched classes keep defaults.
	assert.Equal(t, 24, policies[ClassSearch].FreshHours)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
