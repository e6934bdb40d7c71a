package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/mint"
	mw "github.com/hoshinoume/terravale/server/middleware"
)

// MintHandler handles minting REST endpoints.
type MintHandler struct {
	queue *mint.Queue
	inv   *asset.Inventory
}

// NewMintHandler creates a MintHandler.
func NewMintHandler(queue *mint.Queue, inv *asset.Inventory) *MintHandler {
	return &MintHandler{queue: queue, inv: inv}
}

type mintRequest struct {
	AssetID string `json:"asset_id" binding:"required"`
}

// Enqueue handles POST /api/mint: queue one owned asset for minting.
// Duplicates are accepted and silently ignored.
func (h *MintHandler) Enqueue(c *gin.Context) {
	var req mintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a, err := h.inv.ItemByID(c.Request.Context(), req.AssetID)
	if err != nil {
		abortWith(c, err)
		return
	}
	if a.Owner != mw.GetWallet(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not your item"})
		return
	}
	if err := h.queue.Enqueue(req.AssetID); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true, "pending": h.queue.Pending()})
}

type mintBatchRequest struct {
	AssetIDs []string `json:"asset_ids" binding:"required,min=1,max=64"`
}

// EnqueueBatch handles POST /api/mint/batch.
func (h *MintHandler) EnqueueBatch(c *gin.Context) {
	var req mintBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wallet := mw.GetWallet(c)
	for _, id := range req.AssetIDs {
		a, err := h.inv.ItemByID(c.Request.Context(), id)
		if err != nil {
			abortWith(c, err)
			return
		}
		if a.Owner != wallet {
			c.JSON(http.StatusForbidden, gin.H{"error": "not your item", "asset_id": id})
			return
		}
	}
	if err := h.queue.EnqueueBatch(req.AssetIDs); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(req.AssetIDs), "pending": h.queue.Pending()})
}

// Status handles GET /api/mint/status.
func (h *MintHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pending": h.queue.Pending(),
		"dropped": h.queue.Dropped(),
	})
}
