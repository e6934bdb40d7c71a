// Package lock provides capability-gated exclusivity for assets: while a
// live Lock exists, the asset is ineligible for trading or transfer. Each
// lock has exactly one key; the key is single-use and consuming it removes
// both records atomically.
package lock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/notify"
	"go.uber.org/zap"
)

// DefaultTTL is how long a lock lives before the sweep treats it as
// implicitly unlocked.
const DefaultTTL = 5 * time.Minute

// Lock marks one asset as ineligible for trading.
type Lock struct {
	LockID    string    `json:"lock_id"`
	KeyID     string    `json:"key_id"`
	AssetID   string    `json:"asset_id"`
	Owner     string    `json:"owner"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (l *Lock) expired(now time.Time) bool { return now.After(l.ExpiresAt) }

// Key is the caller's capability to release one lock.
type Key struct {
	LockID string `json:"lock_id"`
	KeyID  string `json:"key_id"`
}

// Manager owns all live locks. All mutation goes through its mutex.
type Manager struct {
	mu       sync.Mutex
	byAsset  map[string]*Lock // assetID → lock
	byLockID map[string]*Lock // lockID → lock
	ttl      time.Duration
	notifier *notify.Notifier
	logger   *zap.Logger
}

// NewManager creates a Manager with the given TTL (DefaultTTL if <= 0).
func NewManager(ttl time.Duration, notifier *notify.Notifier, logger *zap.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		byAsset:  make(map[string]*Lock),
		byLockID: make(map[string]*Lock),
		ttl:      ttl,
		notifier: notifier,
		logger:   logger,
	}
}

// Lock acquires exclusivity on assetID for owner. A live lock on the same
// asset yields an already_locked conflict.
func (m *Manager) Lock(assetID, owner string) (*Key, error) {
	if assetID == "" {
		return nil, errs.Validationf("bad_asset", "asset id is required")
	}
	now := time.Now()

	m.mu.Lock()
	if existing, ok := m.byAsset[assetID]; ok {
		if !existing.expired(now) {
			m.mu.Unlock()
			return nil, errs.Conflictf(errs.CodeAlreadyLocked, "asset %s is already locked", assetID).
				With("asset_id", assetID)
		}
		// Lazy expiry: a stale lock behaves as if already swept.
		m.evict(existing)
	}
	l := &Lock{
		LockID:    uuid.NewString(),
		KeyID:     uuid.NewString(),
		AssetID:   assetID,
		Owner:     owner,
		LockedAt:  now,
		ExpiresAt: now.Add(m.ttl),
	}
	m.byAsset[assetID] = l
	m.byLockID[l.LockID] = l
	m.mu.Unlock()

	m.logger.Debug("asset locked",
		zap.String("asset_id", assetID), zap.String("lock_id", l.LockID))
	m.notifier.Publish(notify.EventItemLocked, map[string]interface{}{
		"asset_id": assetID,
		"owner":    owner,
	})
	return &Key{LockID: l.LockID, KeyID: l.KeyID}, nil
}

// Unlock releases the lock identified by key. A wrong key yields a
// key_mismatch conflict and leaves the lock intact. On success both the lock
// and the key records are gone and the asset id is returned.
func (m *Manager) Unlock(key *Key) (string, error) {
	if key == nil || key.LockID == "" {
		return "", errs.Validationf("bad_key", "lock key is required")
	}

	m.mu.Lock()
	l, ok := m.byLockID[key.LockID]
	if !ok {
		m.mu.Unlock()
		return "", errs.Conflictf(errs.CodeKeyMismatch, "no live lock for key").
			With("lock_id", key.LockID)
	}
	if l.KeyID != key.KeyID {
		m.mu.Unlock()
		return "", errs.Conflictf(errs.CodeKeyMismatch, "key does not open lock %s", key.LockID).
			With("lock_id", key.LockID)
	}
	m.evict(l)
	m.mu.Unlock()

	m.notifier.Publish(notify.EventItemUnlocked, map[string]interface{}{
		"asset_id": l.AssetID,
		"owner":    l.Owner,
		"reason":   "unlocked",
	})
	return l.AssetID, nil
}

// IsLocked reports whether a live lock exists for assetID. Expired locks
// count as unlocked.
func (m *Manager) IsLocked(assetID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byAsset[assetID]
	return ok && !l.expired(time.Now())
}

// LockedAssets returns the currently locked asset ids.
func (m *Manager) LockedAssets() []Lock {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Lock, 0, len(m.byAsset))
	for _, l := range m.byAsset {
		if !l.expired(now) {
			out = append(out, *l)
		}
	}
	return out
}

// LockMany locks every asset or none: on the first failure the already
// acquired keys are returned alongside the error and the CALLER must unlock
// them. The manager does not roll back on its own.
func (m *Manager) LockMany(assetIDs []string, owner string) ([]*Key, error) {
	keys := make([]*Key, 0, len(assetIDs))
	for _, id := range assetIDs {
		k, err := m.Lock(id, owner)
		if err != nil {
			return keys, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// UnlockAll best-effort releases every key, logging (not returning)
// individual failures. Used by coordinators cleaning up a failed attempt.
func (m *Manager) UnlockAll(keys []*Key) {
	for _, k := range keys {
		if _, err := m.Unlock(k); err != nil {
			m.logger.Warn("cleanup unlock failed",
				zap.String("lock_id", k.LockID), zap.Error(err))
		}
	}
}

// Sweep removes expired locks and emits an expired notification per asset.
// Called periodically by the scheduler.
func (m *Manager) Sweep() int {
	now := time.Now()

	m.mu.Lock()
	var swept []*Lock
	for _, l := range m.byAsset {
		if l.expired(now) {
			swept = append(swept, l)
		}
	}
	for _, l := range swept {
		m.evict(l)
	}
	m.mu.Unlock()

	for _, l := range swept {
		m.logger.Info("lock expired",
			zap.String("asset_id", l.AssetID), zap.String("lock_id", l.LockID))
		m.notifier.Publish(notify.EventItemUnlocked, map[string]interface{}{
			"asset_id": l.AssetID,
			"owner":    l.Owner,
			"reason":   "expired",
		})
	}
	return len(swept)
}

// evict removes both lock and key records. Caller holds m.mu.
func (m *Manager) evict(l *Lock) {
	delete(m.byAsset, l.AssetID)
	delete(m.byLockID, l.LockID)
}
