package asset

import (
	"context"
	"errors"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Inventory is the gorm-backed item store. It implements the read-only
// inventory view the trade engine validates against, plus the ownership
// transfer the coordinators apply after settlement.
type Inventory struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewInventory creates an Inventory service.
func NewInventory(db *gorm.DB, logger *zap.Logger) *Inventory {
	return &Inventory{db: db, logger: logger}
}

// PlayerInventory returns every asset owned by the given wallet.
func (s *Inventory) PlayerInventory(ctx context.Context, owner string) ([]model.Asset, error) {
	var assets []model.Asset
	err := s.db.WithContext(ctx).Where("owner = ?", owner).Order("created_at").Find(&assets).Error
	return assets, err
}

// ItemByID returns one asset, or a not_found validation error.
func (s *Inventory) ItemByID(ctx context.Context, id string) (*model.Asset, error) {
	var a model.Asset
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Validationf(errs.CodeNotFound, "asset %s not found", id).With("asset_id", id)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new unminted asset row.
func (s *Inventory) Create(ctx context.Context, a *model.Asset) error {
	return s.db.WithContext(ctx).Create(a).Error
}

// MarkMinted records the ledger object id and mint time on the asset row.
func (s *Inventory) MarkMinted(ctx context.Context, assetID, tokenID string) error {
	return s.db.WithContext(ctx).Model(&model.Asset{}).
		Where("id = ?", assetID).
		Updates(map[string]interface{}{
			"token_id":  tokenID,
			"minted_at": gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
}

// Transfer moves each asset to newOwner inside one transaction, appending
// the previous owner to its history. Any missing asset aborts the batch.
func (s *Inventory) Transfer(ctx context.Context, assetIDs []string, newOwner string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range assetIDs {
			var a model.Asset
			if err := tx.Where("id = ?", id).First(&a).Error; err != nil {
				return errs.Validationf(errs.CodeNotFound, "asset %s not found", id).With("asset_id", id)
			}
			history := append(model.OwnerHistoryOf(&a), a.Owner)
			if err := tx.Model(&a).Updates(map[string]interface{}{
				"owner":         newOwner,
				"owner_history": model.StringsJSON(history),
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
