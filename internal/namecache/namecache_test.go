package namecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chatterbox/internal/loop"
	"github.com/thebtf/chatterbox/pkg/models"
)

type countingLookup struct {
	calls   atomic.Int32
	release chan struct{}
	name    models.AvatarName
	err     error
}

func (l *countingLookup) LookupName(ctx context.Context, _ uuid.UUID) (models.AvatarName, error) {
	l.calls.Add(1)
	if l.release != nil {
		select {
		case <-l.release:
		case <-ctx.Done():
			return models.AvatarName{}, ctx.Err()
		}
	}
	return l.name, l.err
}

// waitPosted drains the executor until n callbacks have been posted.
func waitPosted(t *testing.T, exec *loop.Manual, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return exec.Len() >= n }, 2*time.Second, 5*time.Millisecond)
	exec.Drain()
}

func TestCache_GetResolvesAndCaches(t *testing.T) {
	id := uuid.New()
	lookup := &countingLookup{name: models.AvatarName{DisplayName: "Alice", UserName: "alice"}}
	exec := &loop.Manual{}
	c := New(lookup, exec)

	var got models.AvatarName
	c.Get(id, func(_ uuid.UUID, name models.AvatarName) { got = name })
	waitPosted(t, exec, 1)
	assert.Equal(t, "Alice", got.DisplayName)

	cached, ok := c.Cached(id)
	require.True(t, ok)
	assert.Equal(t, "alice", cached.UserName)

	// Second request is served from memory.
	got = models.AvatarName{}
	c.Get(id, func(_ uuid.UUID, name models.AvatarName) { got = name })
	assert.Equal(t, 1, exec.Len())
	exec.Drain()
	assert.Equal(t, "Alice", got.DisplayName)
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestCache_ConcurrentRequestsShareLookup(t *testing.T) {
	id := uuid.New()
	lookup := &countingLookup{
		release: make(chan struct{}),
		name:    models.AvatarName{DisplayName: "Bob"},
	}
	exec := &loop.Manual{}
	c := New(lookup, exec)

	var mu sync.Mutex
	var names []string
	for i := 0; i < 3; i++ {
		c.Get(id, func(_ uuid.UUID, name models.AvatarName) {
			mu.Lock()
			names = append(names, name.DisplayName)
			mu.Unlock()
		})
	}

	require.Eventually(t, func() bool { return lookup.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	close(lookup.release)
	waitPosted(t, exec, 3)

	assert.Equal(t, []string{"Bob", "Bob", "Bob"}, names)
	assert.LessOrEqual(t, lookup.calls.Load(), int32(3))
}

func TestCache_CancelledSubscriptionSuppressesCallback(t *testing.T) {
	id := uuid.New()
	exec := &loop.Manual{}
	c := New(Static{id: {DisplayName: "Carol"}}, exec)

	called := false
	sub := c.Get(id, func(uuid.UUID, models.AvatarName) { called = true })
	sub.Close()

	waitPosted(t, exec, 1)
	assert.False(t, called)
}

func TestCache_LookupFailureDeliversInvalidName(t *testing.T) {
	exec := &loop.Manual{}
	c := New(&countingLookup{err: errors.New("boom")}, exec)

	var got models.AvatarName
	delivered := false
	c.Get(uuid.New(), func(_ uuid.UUID, name models.AvatarName) {
		delivered = true
		got = name
	})
	waitPosted(t, exec, 1)

	assert.True(t, delivered)
	assert.False(t, got.IsValid())
}

func TestCache_PutIgnoresInvalidNames(t *testing.T) {
	c := New(Static{}, loop.Inline)
	id := uuid.New()
	c.Put(id, models.AvatarName{})
	_, ok := c.Cached(id)
	assert.False(t, ok)

	c.Put(id, models.AvatarName{UserName: "dave"})
	_, ok = c.Cached(id)
	assert.True(t, ok)
}

func TestStatic_Unknown(t *testing.T) {
	_, err := Static{}.LookupName(context.Background(), uuid.New())
	assert.Error(t, err)
}
