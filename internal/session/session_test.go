package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/scout/internal/model"
	"github.com/sells-group/scout/internal/store"
)

func newRepo(t *testing.T, ttl time.Duration) *Repository {
	t.Helper()
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return NewRepository(st, ttl)
}

func TestCreateAndGet(t *testing.T) {
	r := newRepo(t, DefaultTTL)

	created, err := r.Create(context.Background(), model.RoleContext{Title: "Backend Engineer"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.StageDiscovering, created.Stage)

	got, err := r.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Backend Engineer", got.Role.Title)
}

func TestGet_UnknownID(t *testing.T) {
	r := newRepo(t, DefaultTTL)
	_, err := r.Get(context.Background(), "no-such-session")
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestGet_ExpiredBehavesAsMissing(t *testing.T) {
	r := newRepo(t, 10*time.Millisecond)

	created, err := r.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = r.Get(context.Background(), created.ID)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestStageTransitions(t *testing.T) {
	r := newRepo(t, DefaultTTL)
	s, err := r.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	require.NoError(t, r.SetStage(context.Background(), s.ID, model.StageSearching))
	got, err := r.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageSearching, got.Stage)

	require.NoError(t, r.Fail(context.Background(), s.ID, "directory unavailable"))
	got, err = r.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageFailed, got.Stage)
	assert.Equal(t, "directory unavailable", got.FailureReason)
}

func TestAdvanceOffset_MonotonicUnderConcurrency(t *testing.T) {
	r := newRepo(t, DefaultTTL)
	s, err := r.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	offsets := []int{10, 40, 25, 5, 40, 30}
	var wg sync.WaitGroup
	for _, off := range offsets {
		wg.Add(1)
		go func(off int) {
			defer wg.Done()
			assert.NoError(t, r.AdvanceOffset(context.Background(), s.ID, off))
		}(off)
	}
	wg.Wait()

	got, err := r.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 40, got.ProfilesOffset)
}

func TestAdvanceOffset_NeverRegresses(t *testing.T) {
	r := newRepo(t, DefaultTTL)
	s, err := r.Create(context.Background(), model.RoleContext{Title: "SRE"})
	require.NoError(t, err)

	require.NoError(t, r.AdvanceOffset(context.Background(), s.ID, 20))
	require.NoError(t, r.AdvanceOffset(context.Background(), s.ID, 5))

	got, err := r.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, got.ProfilesOffset)
}

func TestUpdate_UnknownID(t *testing.T) {
	r := newRepo(t, DefaultTTL)
	err := r.SetStage(context.Background(), "ghost", model.StageDone)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
}

func TestDeleteExpired_CountsReaped(t *testing.T) {
	r := newRepo(t, 10*time.Millisecond)

	_, err := r.Create(context.Background(), model.RoleContext{Title: "A"})
	require.NoError(t, err)
	_, err = r.Create(context.Background(), model.RoleContext{Title: "B"})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	n, err := r.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
