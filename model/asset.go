package model

import (
	"time"

	"gorm.io/datatypes"
)

// Asset kinds. The kind multiplier table in game/trade keys off these.
const (
	KindWeapon     = "weapon"
	KindArmor      = "armor"
	KindConsumable = "consumable"
	KindResource   = "resource"
)

// Asset rarities.
const (
	RarityCommon    = "common"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

// Asset is a game item. TokenID is empty until the item has been minted on
// the ledger; after minting every field except Owner and OwnerHistory is
// treated as immutable. Value is derived by game/trade, never stored here.
type Asset struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	Name         string         `gorm:"size:64;not null" json:"name"`
	Description  string         `gorm:"size:256" json:"description"`
	Kind         string         `gorm:"size:16;not null;index:idx_asset_kind" json:"kind"`
	Rarity       string         `gorm:"size:16;not null" json:"rarity"`
	Stats        datatypes.JSON `json:"stats"` // []int stat vector
	Owner        string         `gorm:"size:66;index:idx_asset_owner" json:"owner"`
	TokenID      string         `gorm:"size:80;index:idx_asset_token" json:"token_id"`
	MintedAt     *time.Time     `json:"minted_at"`
	OwnerHistory datatypes.JSON `json:"owner_history"` // []string of past owners
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// Minted reports whether the asset is registered on the ledger.
func (a *Asset) Minted() bool { return a.TokenID != "" }

// AssetMapping is the persisted local-item → ledger-object registration used
// by the gorm-backed asset registry.
type AssetMapping struct {
	AssetID   string    `gorm:"primaryKey;size:36" json:"asset_id"`
	TokenID   string    `gorm:"uniqueIndex;size:80;not null" json:"token_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
