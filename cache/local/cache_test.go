package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *LocalCache {
	t.Helper()
	c, err := NewCache(Config{GCInterval: time.Hour})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestKVRoundtrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Del(ctx, "k"))
	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", "v", 10*time.Millisecond))
	require.NoError(t, c.Set(ctx, "forever", "v", 0))

	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestSetNXGuards(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.SetNX(ctx, "guard", "first", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second claim loses and the original value survives.
	ok, err = c.SetNX(ctx, "guard", "second", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := c.Get(ctx, "guard")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	// An expired guard can be reclaimed.
	ok, err = c.SetNX(ctx, "lapsed", "first", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	time.Sleep(20 * time.Millisecond)
	ok, err = c.SetNX(ctx, "lapsed", "second", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExpire(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Expire(ctx, "missing", time.Minute), ErrNotFound)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	require.NoError(t, c.Expire(ctx, "k", 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrderingAndTrim(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	// LPush prepends, so the last pushed value reads first.
	require.NoError(t, c.LPush(ctx, "l", "a"))
	require.NoError(t, c.LPush(ctx, "l", "b", "c"))

	got, err := c.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, got)

	got, err = c.LRange(ctx, "l", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, got)

	// Range past the end is empty, not an error.
	got, err = c.LRange(ctx, "l", 5, 9)
	require.NoError(t, err)
	assert.Empty(t, got)

	// Trim keeps the newest two entries.
	require.NoError(t, c.LTrim(ctx, "l", 0, 1))
	got, err = c.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, got)

	// Trimming beyond the length empties the list.
	require.NoError(t, c.LTrim(ctx, "l", 5, 9))
	got, err = c.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPubSubFanOut(t *testing.T) {
	ps := NewPubSub(8)
	ctx := context.Background()

	ch1, cancel1, err := ps.Subscribe(ctx, "events")
	require.NoError(t, err)
	ch2, cancel2, err := ps.Subscribe(ctx, "events", "other")
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, ps.Publish(ctx, "events", "hello"))
	require.NoError(t, ps.Publish(ctx, "other", "side"))

	msg := <-ch1
	assert.Equal(t, "events", msg.Channel)
	assert.Equal(t, "hello", msg.Payload)

	first := <-ch2
	second := <-ch2
	assert.Equal(t, "hello", first.Payload)
	assert.Equal(t, "side", second.Payload)

	// After cancel the subscriber's channel closes and stops receiving.
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	require.NoError(t, ps.Publish(ctx, "events", "after"))
	got := <-ch2
	assert.Equal(t, "after", got.Payload)
}
