// Package trade houses valuation and validation of trades plus the two
// counterparty coordinators: the fixed-catalog NPC merchant and the open
// player-to-player marketplace.
package trade

import (
	"context"
	"math"
	"sort"

	"github.com/hoshinoume/terravale/server/errs"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/model"
	"go.uber.org/zap"
)

// rarityMultiplier and kindMultiplier are the fixed valuation tables.
var rarityMultiplier = map[string]float64{
	model.RarityCommon:    1,
	model.RarityRare:      5,
	model.RarityEpic:      20,
	model.RarityLegendary: 100,
}

var kindMultiplier = map[string]float64{
	model.KindWeapon:     2,
	model.KindArmor:      1.5,
	model.KindConsumable: 1,
	model.KindResource:   0.5,
}

// InventorySource is the read-only inventory view the engine validates
// against.
type InventorySource interface {
	PlayerInventory(ctx context.Context, owner string) ([]model.Asset, error)
	ItemByID(ctx context.Context, id string) (*model.Asset, error)
}

// ValidationResult carries the computed balance breakdown even when the
// trade is rejected, so callers can render why.
type ValidationResult struct {
	Valid          bool   `json:"valid"`
	OfferedValue   int    `json:"offered_value"`
	RequestedValue int    `json:"requested_value"`
	Difference     int    `json:"difference"` // offered − requested
	Tolerance      int    `json:"tolerance"`
	Error          string `json:"error,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// Suggestion is one candidate pairing from Suggest.
type Suggestion struct {
	OfferItemID   string `json:"offer_item_id"`
	RequestItemID string `json:"request_item_id"`
	OfferValue    int    `json:"offer_value"`
	RequestValue  int    `json:"request_value"`
	Difference    int    `json:"difference"` // absolute
}

// Config bounds validation.
type Config struct {
	MaxSlots         int
	BalanceTolerance int
	SuggestionLimit  int
}

// Engine computes values and validates proposed trades.
type Engine struct {
	inv    InventorySource
	locks  *lock.Manager
	cfg    Config
	logger *zap.Logger
}

// NewEngine creates an Engine.
func NewEngine(inv InventorySource, locks *lock.Manager, cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 6
	}
	if cfg.BalanceTolerance <= 0 {
		cfg.BalanceTolerance = 5
	}
	if cfg.SuggestionLimit <= 0 {
		cfg.SuggestionLimit = 5
	}
	return &Engine{inv: inv, locks: locks, cfg: cfg, logger: logger}
}

// ValueOf derives an asset's trade value:
// rarityMultiplier × kindMultiplier + sum(stats)/10, rounded to nearest.
func ValueOf(a *model.Asset) int {
	base := rarityMultiplier[a.Rarity] * kindMultiplier[a.Kind]
	var statSum float64
	for _, s := range model.StatsOf(a) {
		statSum += float64(s)
	}
	return int(math.Round(base + statSum/10))
}

// ValueOfAll sums ValueOf over assets.
func ValueOfAll(assets []*model.Asset) int {
	total := 0
	for _, a := range assets {
		total += ValueOf(a)
	}
	return total
}

// Validate checks a proposed trade: offered items must be owned by proposer
// and unlocked, requested items must be in the counterparty's available set,
// sizes within max slots, and values within tolerance. The balance breakdown
// is filled in even on rejection.
func (e *Engine) Validate(ctx context.Context, proposer string, offeredIDs, requestedIDs []string, available map[string]*model.Asset) (*ValidationResult, error) {
	res := &ValidationResult{Tolerance: e.cfg.BalanceTolerance}

	if len(offeredIDs) == 0 || len(requestedIDs) == 0 {
		res.Error = "empty_trade"
		res.Detail = "both sides must offer at least one item"
		return res, nil
	}
	if len(offeredIDs) > e.cfg.MaxSlots || len(requestedIDs) > e.cfg.MaxSlots {
		res.Error = "too_many_items"
		res.Detail = "trade exceeds the slot limit"
		return res, nil
	}

	var offered []*model.Asset
	for _, id := range offeredIDs {
		a, err := e.inv.ItemByID(ctx, id)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeNotFound {
				res.Error = "unknown_item"
				res.Detail = "offered item " + id + " does not exist"
				return res, nil
			}
			return nil, err
		}
		if a.Owner != proposer {
			res.Error = "not_owned"
			res.Detail = "offered item " + id + " is not owned by the proposer"
			return res, nil
		}
		if e.locks.IsLocked(id) {
			res.Error = "item_locked"
			res.Detail = "offered item " + id + " is locked"
			return res, nil
		}
		offered = append(offered, a)
	}

	var requested []*model.Asset
	for _, id := range requestedIDs {
		a, ok := available[id]
		if !ok {
			res.Error = "unavailable_item"
			res.Detail = "requested item " + id + " is not available from the counterparty"
			return res, nil
		}
		requested = append(requested, a)
	}

	res.OfferedValue = ValueOfAll(offered)
	res.RequestedValue = ValueOfAll(requested)
	res.Difference = res.OfferedValue - res.RequestedValue

	if abs(res.Difference) > e.cfg.BalanceTolerance {
		res.Error = errs.CodeUnbalanced
		res.Detail = "value difference exceeds tolerance"
		return res, nil
	}

	res.Valid = true
	return res, nil
}

// ValidateOffered checks only the proposer's side: slot bounds, ownership
// and lock state. Open proposals use this at creation, since there is no
// counterparty inventory to balance against yet.
func (e *Engine) ValidateOffered(ctx context.Context, proposer string, offeredIDs []string) error {
	if len(offeredIDs) == 0 {
		return errs.Validationf(errs.CodeUnbalanced, "at least one item must be offered")
	}
	if len(offeredIDs) > e.cfg.MaxSlots {
		return errs.Validationf(errs.CodeUnbalanced, "offered items exceed %d slots", e.cfg.MaxSlots)
	}
	for _, id := range offeredIDs {
		a, err := e.inv.ItemByID(ctx, id)
		if err != nil {
			return err
		}
		if a.Owner != proposer {
			return errs.Validationf(errs.CodeInvalidState, "item %s is not owned by the proposer", id)
		}
		if e.locks.IsLocked(id) {
			return errs.Conflictf(errs.CodeAlreadyLocked, "item %s is locked", id)
		}
	}
	return nil
}

// Suggest returns up to limit pairings of the player's items against the
// available set, ranked by ascending value difference. Greedy nearest-value
// matching; ties keep catalog (input) order.
func (e *Engine) Suggest(playerItems []*model.Asset, available []*model.Asset, limit int) []Suggestion {
	if limit <= 0 {
		limit = e.cfg.SuggestionLimit
	}
	var out []Suggestion
	for _, mine := range playerItems {
		if e.locks.IsLocked(mine.ID) {
			continue
		}
		mv := ValueOf(mine)
		best := -1
		bestDiff := 0
		for i, theirs := range available {
			d := abs(mv - ValueOf(theirs))
			if best == -1 || d < bestDiff {
				best = i
				bestDiff = d
			}
		}
		if best >= 0 {
			out = append(out, Suggestion{
				OfferItemID:   mine.ID,
				RequestItemID: available[best].ID,
				OfferValue:    mv,
				RequestValue:  ValueOf(available[best]),
				Difference:    bestDiff,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Difference < out[j].Difference })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
