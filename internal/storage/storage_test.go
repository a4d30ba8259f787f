package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change")
		return Change{}
	}
}

func TestSessionTier(t *testing.T) {
	ctx := context.Background()
	tier := NewSessionTier(time.Hour)
	defer tier.Close()

	changes, _ := tier.Watch()

	_, ok, err := tier.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tier.Set(ctx, "authToken", "abc"))
	assert.Equal(t, Change{Tier: TierSession, Key: "authToken", Value: "abc"}, receive(t, changes))

	v, ok, err := tier.Get(ctx, "authToken")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, tier.Delete(ctx, "authToken"))
	assert.Equal(t, Change{Tier: TierSession, Key: "authToken", Deleted: true}, receive(t, changes))

	require.NoError(t, tier.Delete(ctx, "never-set"))
	select {
	case c := <-changes:
		t.Fatalf("unexpected change for missing key: %+v", c)
	default:
	}
}

func TestSessionTier_Expiry(t *testing.T) {
	ctx := context.Background()
	tier := NewSessionTier(10 * time.Millisecond)
	defer tier.Close()

	require.NoError(t, tier.Set(ctx, "k", "v"))
	require.Eventually(t, func() bool {
		_, ok, _ := tier.Get(ctx, "k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestSessionTier_Close(t *testing.T) {
	tier := NewSessionTier(time.Hour)
	changes, _ := tier.Watch()

	require.NoError(t, tier.Close())
	require.NoError(t, tier.Close())

	_, open := <-changes
	assert.False(t, open, "watch channel should be closed")

	_, _, err := tier.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tier.Set(context.Background(), "k", "v"), ErrClosed)
}

func TestLocalTier_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	tier, err := OpenLocalTier(path, nil)
	require.NoError(t, err)
	require.NoError(t, tier.Set(ctx, "userData", `{"name":"Ada"}`))
	require.NoError(t, tier.Set(ctx, "userData", `{"name":"Ada L"}`))
	require.NoError(t, tier.Close())

	reopened, err := OpenLocalTier(path, nil)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get(ctx, "userData")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"name":"Ada L"}`, v)

	require.NoError(t, reopened.Delete(ctx, "userData"))
	_, ok, err = reopened.Get(ctx, "userData")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatch_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	tier := NewSessionTier(time.Hour)
	defer tier.Close()

	kept, _ := tier.Watch()
	dropped, unsubscribe := tier.Watch()
	require.Equal(t, 2, tier.events.watchers())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 1, tier.events.watchers())
	_, open := <-dropped
	assert.False(t, open)

	require.NoError(t, tier.Set(ctx, "authToken", "abc"))
	assert.Equal(t, "abc", receive(t, kept).Value)

	// Unsubscribing after Close is a no-op
	_, late := tier.Watch()
	require.NoError(t, tier.Close())
	late()
	assert.Equal(t, 0, tier.events.watchers())
}

func TestLocalTier_WatchLocalWrites(t *testing.T) {
	ctx := context.Background()
	tier, err := OpenLocalTier(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)
	defer tier.Close()

	changes, _ := tier.Watch()
	require.NoError(t, tier.Set(ctx, "authToken", "tok"))

	assert.Equal(t, Change{Tier: TierLocal, Key: "authToken", Value: "tok"}, receive(t, changes))
}

func TestLocalTier_DetectsOutsideWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")

	watched, err := OpenLocalTier(path, nil)
	require.NoError(t, err)
	defer watched.Close()

	// A second handle on the same file stands in for another process
	writer, err := OpenLocalTier(path, nil)
	require.NoError(t, err)
	defer writer.Close()

	changes, _ := watched.Watch()
	require.NoError(t, writer.Set(ctx, "authToken", "from-elsewhere"))

	c := receive(t, changes)
	assert.Equal(t, "authToken", c.Key)
	assert.Equal(t, "from-elsewhere", c.Value)
	assert.False(t, c.Deleted)
}

func TestLocalTier_Closed(t *testing.T) {
	tier, err := OpenLocalTier(filepath.Join(t.TempDir(), "local.db"), nil)
	require.NoError(t, err)

	changes, _ := tier.Watch()
	require.NoError(t, tier.Close())
	require.NoError(t, tier.Close())

	_, open := <-changes
	assert.False(t, open)
	assert.ErrorIs(t, tier.Set(context.Background(), "k", "v"), ErrClosed)
}

func TestTiersSatisfyInterface(t *testing.T) {
	var _ Tier = (*SessionTier)(nil)
	var _ Tier = (*LocalTier)(nil)
}
