package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/trade"
	mw "github.com/hoshinoume/terravale/server/middleware"
	"github.com/hoshinoume/terravale/server/model"
)

// TradingHandler handles trading REST endpoints: locks, NPC trades,
// player-to-player proposals, and trade history.
type TradingHandler struct {
	svcs *TradeServices
}

// TradeServices bundles the trading collaborators the handler fronts.
type TradeServices struct {
	Engine      *trade.Engine
	Locks       *lock.Manager
	NPC         *trade.NPCCoordinator
	Marketplace *trade.Marketplace
	History     *trade.History
	Inventory   trade.InventorySource
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(svcs *TradeServices) *TradingHandler {
	return &TradingHandler{svcs: svcs}
}

// ---- Locks ----

type lockRequest struct {
	AssetID string `json:"asset_id" binding:"required"`
}

// Lock handles POST /api/trading/locks. The returned key is the caller's
// only capability to release the lock; it is never stored server-side.
func (h *TradingHandler) Lock(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet := mw.GetWallet(c)
	a, err := h.svcs.Inventory.ItemByID(c.Request.Context(), req.AssetID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if a.Owner != wallet {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your item"})
		return
	}
	key, err := h.svcs.Locks.Lock(req.AssetID, wallet)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key})
}

type unlockRequest struct {
	LockID string `json:"lock_id" binding:"required"`
	KeyID  string `json:"key_id" binding:"required"`
}

// Unlock handles POST /api/trading/unlock.
func (h *TradingHandler) Unlock(c *gin.Context) {
	var req unlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	assetID, err := h.svcs.Locks.Unlock(&lock.Key{LockID: req.LockID, KeyID: req.KeyID})
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"asset_id": assetID})
}

// Locks handles GET /api/trading/locks: every live lock. Keys are not
// included; only the holder of a key can release its lock.
func (h *TradingHandler) Locks(c *gin.Context) {
	locks := h.svcs.Locks.LockedAssets()
	c.JSON(http.StatusOK, gin.H{"locks": locks, "count": len(locks)})
}

// ---- NPC trading ----

// Catalog handles GET /api/trading/npc/:name.
func (h *TradingHandler) Catalog(c *gin.Context) {
	cat, err := h.svcs.NPC.Catalog(c.Param("name"))
	if err != nil {
		abortWith(c, err)
		return
	}
	type stockView struct {
		model.Asset
		Value int `json:"value"`
	}
	items := make([]stockView, 0, len(cat.Items))
	for i := range cat.Items {
		items = append(items, stockView{Asset: cat.Items[i], Value: trade.ValueOf(&cat.Items[i])})
	}
	c.JSON(http.StatusOK, gin.H{"name": cat.Name, "items": items})
}

type npcTradeRequest struct {
	Offered   []string `json:"offered" binding:"required,min=1"`
	Requested []string `json:"requested" binding:"required,min=1"`
}

// ValidateNPC handles POST /api/trading/npc/:name/validate: a dry run that
// always returns the balance breakdown.
func (h *TradingHandler) ValidateNPC(c *gin.Context) {
	var req npcTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.svcs.NPC.Validate(c.Request.Context(), mw.GetWallet(c), c.Param("name"), req.Offered, req.Requested)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SuggestNPC handles GET /api/trading/npc/:name/suggest.
func (h *TradingHandler) SuggestNPC(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	suggestions, err := h.svcs.NPC.Suggest(c.Request.Context(), mw.GetWallet(c), c.Param("name"), limit)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"suggestions": suggestions})
}

// ExecuteNPC handles POST /api/trading/npc/:name/execute.
func (h *TradingHandler) ExecuteNPC(c *gin.Context) {
	var req npcTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := h.svcs.NPC.Execute(c.Request.Context(), mw.GetWallet(c), c.Param("name"), req.Offered, req.Requested)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": rec})
}

// ---- Player-to-player proposals ----

type proposalRequest struct {
	Offered   []string `json:"offered" binding:"required,min=1"`
	Requested []string `json:"requested" binding:"required,min=1"`
	Target    string   `json:"target"`
	Message   string   `json:"message" binding:"max=256"`
}

// CreateProposal handles POST /api/trading/proposals.
func (h *TradingHandler) CreateProposal(c *gin.Context) {
	var req proposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := h.svcs.Marketplace.Create(c.Request.Context(), mw.GetWallet(c), req.Offered, req.Requested, req.Target, req.Message)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"proposal": p})
}

// ListProposals handles GET /api/trading/proposals?status=pending.
// Results are scoped to proposals visible to the caller: their own, ones
// directed at them, and open ones.
func (h *TradingHandler) ListProposals(c *gin.Context) {
	proposals := h.svcs.Marketplace.List(c.Query("status"), mw.GetWallet(c))
	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

// GetProposal handles GET /api/trading/proposals/:id.
func (h *TradingHandler) GetProposal(c *gin.Context) {
	p, err := h.svcs.Marketplace.Get(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p})
}

// AcceptProposal handles POST /api/trading/proposals/:id/accept.
func (h *TradingHandler) AcceptProposal(c *gin.Context) {
	rec, err := h.svcs.Marketplace.Accept(c.Request.Context(), mw.GetWallet(c), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trade": rec})
}

// CancelProposal handles DELETE /api/trading/proposals/:id.
func (h *TradingHandler) CancelProposal(c *gin.Context) {
	if err := h.svcs.Marketplace.Cancel(c.Request.Context(), mw.GetWallet(c), c.Param("id")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- History ----

// History handles GET /api/trading/history/:counterparty.
func (h *TradingHandler) History(c *gin.Context) {
	entries, err := h.svcs.History.For(c.Request.Context(), c.Param("counterparty"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries, "count": len(entries)})
}
