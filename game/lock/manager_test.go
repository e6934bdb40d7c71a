package lock

import (
	"sync"
	"testing"
	"time"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager(ttl time.Duration) *Manager {
	return NewManager(ttl, notify.New(nil, zap.NewNop()), zap.NewNop())
}

func TestLockIsExclusive(t *testing.T) {
	m := newTestManager(0)

	key, err := m.Lock("a1", "0xalice")
	require.NoError(t, err)
	require.NotNil(t, key)
	assert.True(t, m.IsLocked("a1"))

	_, err = m.Lock("a1", "0xbob")
	require.Error(t, err)
	assert.Equal(t, errs.CodeAlreadyLocked, errs.CodeOf(err))
	assert.True(t, errs.IsKind(err, errs.Conflict))
}

func TestUnlockRequiresMatchingKey(t *testing.T) {
	m := newTestManager(0)

	key, err := m.Lock("a1", "0xalice")
	require.NoError(t, err)

	// Right lock id, wrong key id.
	_, err = m.Unlock(&Key{LockID: key.LockID, KeyID: "forged"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeKeyMismatch, errs.CodeOf(err))
	assert.True(t, m.IsLocked("a1"), "failed unlock must leave the lock intact")

	assetID, err := m.Unlock(key)
	require.NoError(t, err)
	assert.Equal(t, "a1", assetID)
	assert.False(t, m.IsLocked("a1"))
}

func TestUnlockConsumesKey(t *testing.T) {
	m := newTestManager(0)
	key, _ := m.Lock("a1", "0xalice")

	_, err := m.Unlock(key)
	require.NoError(t, err)

	// The key opened its lock once; both records are gone.
	_, err = m.Unlock(key)
	require.Error(t, err)
	assert.Equal(t, errs.CodeKeyMismatch, errs.CodeOf(err))
}

func TestRelockAfterUnlockIssuesFreshKey(t *testing.T) {
	m := newTestManager(0)
	key1, _ := m.Lock("a1", "0xalice")
	m.Unlock(key1)

	key2, err := m.Lock("a1", "0xalice")
	require.NoError(t, err)
	assert.NotEqual(t, key1.LockID, key2.LockID)
	assert.NotEqual(t, key1.KeyID, key2.KeyID)
}

func TestExpiredLockBehavesUnlocked(t *testing.T) {
	m := newTestManager(10 * time.Millisecond)
	_, err := m.Lock("a1", "0xalice")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	assert.False(t, m.IsLocked("a1"))

	// Lazy expiry: a new lock succeeds over the stale one.
	_, err = m.Lock("a1", "0xbob")
	assert.NoError(t, err)
}

func TestSweepRemovesOnlyExpired(t *testing.T) {
	m := newTestManager(30 * time.Millisecond)
	_, err := m.Lock("old", "0xalice")
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	_, err = m.Lock("fresh", "0xalice")
	require.NoError(t, err)

	assert.Equal(t, 1, m.Sweep())
	assert.False(t, m.IsLocked("old"))
	assert.True(t, m.IsLocked("fresh"))
	assert.Equal(t, 0, m.Sweep())
}

func TestSweepEmitsExpiredEvent(t *testing.T) {
	notifier := notify.New(nil, zap.NewNop())
	var mu sync.Mutex
	var reasons []string
	notifier.Subscribe(notify.EventItemUnlocked, func(e notify.Event) {
		mu.Lock()
		reasons = append(reasons, e.Payload["reason"].(string))
		mu.Unlock()
	})
	m := NewManager(10*time.Millisecond, notifier, zap.NewNop())

	m.Lock("a1", "0xalice")
	time.Sleep(20 * time.Millisecond)
	m.Sweep()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reasons, 1)
	assert.Equal(t, "expired", reasons[0])
}

func TestLockManyStopsAtFirstConflict(t *testing.T) {
	m := newTestManager(0)
	blocker, _ := m.Lock("a2", "0xbob")

	keys, err := m.LockMany([]string{"a1", "a2", "a3"}, "0xalice")
	require.Error(t, err)
	assert.Equal(t, errs.CodeAlreadyLocked, errs.CodeOf(err))
	// a1 was acquired before the failure; the caller owns the cleanup.
	require.Len(t, keys, 1)
	assert.True(t, m.IsLocked("a1"))
	assert.False(t, m.IsLocked("a3"))

	m.UnlockAll(keys)
	assert.False(t, m.IsLocked("a1"))

	m.Unlock(blocker)
}

func TestConcurrentLockSingleWinner(t *testing.T) {
	m := newTestManager(0)
	const attempts = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	var won int
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Lock("contested", "0xalice"); err == nil {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, won)
	assert.True(t, m.IsLocked("contested"))
}
