package trade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/flow"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/notify"
	"github.com/hoshinoume/terravale/server/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Catalog is one NPC merchant's fixed stock. Catalog items are templates:
// supply is infinite and the merchant's side is never locked.
type Catalog struct {
	Name  string
	Items []model.Asset
}

// available builds the lookup set Validate works against.
func (c *Catalog) available() map[string]*model.Asset {
	out := make(map[string]*model.Asset, len(c.Items))
	for i := range c.Items {
		out[c.Items[i].ID] = &c.Items[i]
	}
	return out
}

// InventoryWriter is the mutating inventory surface the coordinators use.
type InventoryWriter interface {
	Transfer(ctx context.Context, assetIDs []string, newOwner string) error
	Create(ctx context.Context, a *model.Asset) error
}

// NPCCoordinator settles trades against fixed-catalog merchants.
type NPCCoordinator struct {
	db       *gorm.DB
	engine   *Engine
	locks    *lock.Manager
	flows    *flow.Engine
	inv      InventoryWriter
	history  *History
	notifier *notify.Notifier
	catalogs map[string]*Catalog
	logger   *zap.Logger
}

// NewNPCCoordinator creates an NPCCoordinator over the given catalogs.
func NewNPCCoordinator(
	db *gorm.DB,
	engine *Engine,
	locks *lock.Manager,
	flows *flow.Engine,
	inventory InventoryWriter,
	history *History,
	notifier *notify.Notifier,
	catalogs []*Catalog,
	logger *zap.Logger,
) *NPCCoordinator {
	byName := make(map[string]*Catalog, len(catalogs))
	for _, c := range catalogs {
		byName[c.Name] = c
	}
	return &NPCCoordinator{
		db:       db,
		engine:   engine,
		locks:    locks,
		flows:    flows,
		inv:      inventory,
		history:  history,
		notifier: notifier,
		catalogs: byName,
		logger:   logger,
	}
}

// Catalog returns a merchant's stock, or a not_found error.
func (c *NPCCoordinator) Catalog(name string) (*Catalog, error) {
	cat, ok := c.catalogs[name]
	if !ok {
		return nil, errs.Validationf(errs.CodeNotFound, "catalog %q not found", name)
	}
	return cat, nil
}

// Suggest pairs the player's tradeable items against the catalog.
func (c *NPCCoordinator) Suggest(ctx context.Context, wallet, catalogName string, limit int) ([]Suggestion, error) {
	cat, err := c.Catalog(catalogName)
	if err != nil {
		return nil, err
	}
	mine, err := c.engine.inv.PlayerInventory(ctx, wallet)
	if err != nil {
		return nil, err
	}
	minePtrs := make([]*model.Asset, len(mine))
	for i := range mine {
		minePtrs[i] = &mine[i]
	}
	theirs := make([]*model.Asset, len(cat.Items))
	for i := range cat.Items {
		theirs[i] = &cat.Items[i]
	}
	return c.engine.Suggest(minePtrs, theirs, limit), nil
}

// Validate dry-runs a trade against the catalog.
func (c *NPCCoordinator) Validate(ctx context.Context, wallet, catalogName string, offeredIDs, requestedIDs []string) (*ValidationResult, error) {
	cat, err := c.Catalog(catalogName)
	if err != nil {
		return nil, err
	}
	return c.engine.Validate(ctx, wallet, offeredIDs, requestedIDs, cat.available())
}

// Execute runs a full trade attempt: validate → lock offered items → swap
// flow → transfer + grant → release locks. Any failure after locking
// releases everything locked during this attempt.
func (c *NPCCoordinator) Execute(ctx context.Context, wallet, catalogName string, offeredIDs, requestedIDs []string) (*model.TradeRecord, error) {
	cat, err := c.Catalog(catalogName)
	if err != nil {
		return nil, err
	}

	result, err := c.engine.Validate(ctx, wallet, offeredIDs, requestedIDs, cat.available())
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return nil, errs.Validationf(result.Error, "trade rejected: %s", result.Detail).
			With("offered_value", result.OfferedValue).
			With("requested_value", result.RequestedValue).
			With("difference", result.Difference)
	}

	keys, err := c.locks.LockMany(offeredIDs, wallet)
	if err != nil {
		// Partial locks are this attempt's responsibility.
		c.locks.UnlockAll(keys)
		return nil, err
	}

	f, err := c.flows.Execute(ctx, flow.KindExecuteSwap, map[string]interface{}{
		"counterparty": catalogName,
		"offered":      offeredIDs,
		"requested":    requestedIDs,
	})
	if err != nil || f.Status != flow.StatusCompleted {
		c.locks.UnlockAll(keys)
		rec := c.record(ctx, wallet, catalogName, offeredIDs, requestedIDs, result, model.TradeCancelled, flowID(f))
		c.notifier.Publish(notify.EventTradeCancelled, map[string]interface{}{
			"counterparty": catalogName,
			"proposer":     wallet,
		})
		if err != nil {
			return rec, err
		}
		return rec, errs.Externalf(errs.CodeLedger, nil, "swap flow %s: %s", f.Status, f.Error).
			With("flow_id", f.ID)
	}

	// Offered items move to the merchant; requested templates are granted
	// as fresh assets (infinite supply).
	if err := c.inv.Transfer(ctx, offeredIDs, "npc:"+catalogName); err != nil {
		c.locks.UnlockAll(keys)
		return nil, err
	}
	stock := cat.available()
	for _, id := range requestedIDs {
		tmpl := stock[id]
		granted := *tmpl
		granted.ID = uuid.NewString()
		granted.Owner = wallet
		granted.TokenID = ""
		granted.MintedAt = nil
		granted.OwnerHistory = model.StringsJSON([]string{"npc:" + catalogName})
		if err := c.inv.Create(ctx, &granted); err != nil {
			c.logger.Error("grant failed after settlement",
				zap.String("template_id", id), zap.Error(err))
		}
	}

	// Settlement done: consume the locks.
	c.locks.UnlockAll(keys)

	rec := c.record(ctx, wallet, catalogName, offeredIDs, requestedIDs, result, model.TradeCompleted, f.ID)
	c.history.Append(ctx, HistoryEntry{
		ProposalID:    rec.ProposalID,
		Proposer:      wallet,
		Counterparty:  catalogName,
		OfferedItems:  offeredIDs,
		ReceivedItems: requestedIDs,
		Status:        model.TradeCompleted,
		At:            time.Now(),
	})
	c.notifier.Publish(notify.EventTradeCompleted, map[string]interface{}{
		"counterparty": catalogName,
		"proposer":     wallet,
		"flow_id":      f.ID,
	})
	return rec, nil
}

func (c *NPCCoordinator) record(ctx context.Context, wallet, counterparty string, offered, requested []string, v *ValidationResult, status, fid string) *model.TradeRecord {
	rec := &model.TradeRecord{
		ProposalID:    uuid.NewString(),
		Proposer:      wallet,
		Counterparty:  counterparty,
		OfferedItems:  model.StringsJSON(offered),
		ReceivedItems: model.StringsJSON(requested),
		OfferedValue:  v.OfferedValue,
		ReceivedValue: v.RequestedValue,
		Status:        status,
		FlowID:        fid,
	}
	if err := c.db.WithContext(ctx).Create(rec).Error; err != nil {
		c.logger.Warn("trade record write failed", zap.Error(err))
	}
	return rec
}

func flowID(f *flow.Flow) string {
	if f == nil {
		return ""
	}
	return f.ID
}
