// Package asset owns the local-item → ledger-object registry and the
// inventory read surface the trading engine validates against.
package asset

import (
	"sync"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/model"
	"gorm.io/gorm"
)

// Mapping is one registered local-item → ledger-object pair.
type Mapping struct {
	AssetID string `json:"asset_id"`
	TokenID string `json:"token_id"`
}

// Registry maps local asset ids to minted ledger object ids. Mutating
// operations are serialized by the implementation.
type Registry interface {
	Register(assetID, tokenID string) error
	TokenID(assetID string) (string, bool)
	AssetID(tokenID string) (string, bool)
	IsRegistered(assetID string) bool
	Registered() []Mapping
}

// ---- in-memory store ----

// MemoryRegistry is a mutex-guarded in-process Registry.
type MemoryRegistry struct {
	mu      sync.RWMutex
	byAsset map[string]string
	byToken map[string]string
}

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		byAsset: make(map[string]string),
		byToken: make(map[string]string),
	}
}

func (r *MemoryRegistry) Register(assetID, tokenID string) error {
	if assetID == "" || tokenID == "" {
		return errs.Validationf("bad_mapping", "asset id and token id are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byAsset[assetID]; ok && existing != tokenID {
		return errs.Conflictf(errs.CodeInvalidState,
			"asset %s already registered to %s", assetID, existing)
	}
	r.byAsset[assetID] = tokenID
	r.byToken[tokenID] = assetID
	return nil
}

func (r *MemoryRegistry) TokenID(assetID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byAsset[assetID]
	return t, ok
}

func (r *MemoryRegistry) AssetID(tokenID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byToken[tokenID]
	return a, ok
}

func (r *MemoryRegistry) IsRegistered(assetID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byAsset[assetID]
	return ok
}

func (r *MemoryRegistry) Registered() []Mapping {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Mapping, 0, len(r.byAsset))
	for a, t := range r.byAsset {
		out = append(out, Mapping{AssetID: a, TokenID: t})
	}
	return out
}

// ---- gorm-backed store ----

// DBRegistry persists mappings in the asset_mappings table. DB uniqueness
// constraints serialize concurrent registration of the same pair.
type DBRegistry struct {
	db *gorm.DB
}

// NewDBRegistry creates a Registry backed by the given database.
func NewDBRegistry(db *gorm.DB) *DBRegistry {
	return &DBRegistry{db: db}
}

func (r *DBRegistry) Register(assetID, tokenID string) error {
	if assetID == "" || tokenID == "" {
		return errs.Validationf("bad_mapping", "asset id and token id are required")
	}
	var existing model.AssetMapping
	err := r.db.Where("asset_id = ?", assetID).First(&existing).Error
	if err == nil {
		if existing.TokenID == tokenID {
			return nil
		}
		return errs.Conflictf(errs.CodeInvalidState,
			"asset %s already registered to %s", assetID, existing.TokenID)
	}
	return r.db.Create(&model.AssetMapping{AssetID: assetID, TokenID: tokenID}).Error
}

func (r *DBRegistry) TokenID(assetID string) (string, bool) {
	var m model.AssetMapping
	if err := r.db.Where("asset_id = ?", assetID).First(&m).Error; err != nil {
		return "", false
	}
	return m.TokenID, true
}

func (r *DBRegistry) AssetID(tokenID string) (string, bool) {
	var m model.AssetMapping
	if err := r.db.Where("token_id = ?", tokenID).First(&m).Error; err != nil {
		return "", false
	}
	return m.AssetID, true
}

func (r *DBRegistry) IsRegistered(assetID string) bool {
	var count int64
	r.db.Model(&model.AssetMapping{}).Where("asset_id = ?", assetID).Count(&count)
	return count > 0
}

func (r *DBRegistry) Registered() []Mapping {
	var rows []model.AssetMapping
	if err := r.db.Find(&rows).Error; err != nil {
		return nil
	}
	out := make([]Mapping, 0, len(rows))
	for _, row := range rows {
		out = append(out, Mapping{AssetID: row.AssetID, TokenID: row.TokenID})
	}
	return out
}
