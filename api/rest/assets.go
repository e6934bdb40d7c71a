package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hoshinoume/terravale/server/game/asset"
	"github.com/hoshinoume/terravale/server/game/trade"
	"github.com/hoshinoume/terravale/server/ledger"
	mw "github.com/hoshinoume/terravale/server/middleware"
	"github.com/hoshinoume/terravale/server/model"
)

// AssetsHandler handles item inventory REST endpoints.
type AssetsHandler struct {
	inv      *asset.Inventory
	registry asset.Registry
	chain    ledger.Client
}

// NewAssetsHandler creates an AssetsHandler.
func NewAssetsHandler(inv *asset.Inventory, registry asset.Registry, chain ledger.Client) *AssetsHandler {
	return &AssetsHandler{inv: inv, registry: registry, chain: chain}
}

// assetView is an asset plus its derived trade value.
type assetView struct {
	model.Asset
	Value  int  `json:"value"`
	Minted bool `json:"minted"`
}

func viewOf(a *model.Asset) assetView {
	return assetView{Asset: *a, Value: trade.ValueOf(a), Minted: a.Minted()}
}

// List handles GET /api/assets: the caller's full inventory.
func (h *AssetsHandler) List(c *gin.Context) {
	wallet := mw.GetWallet(c)
	assets, err := h.inv.PlayerInventory(c.Request.Context(), wallet)
	if err != nil {
		abortWith(c, err)
		return
	}
	out := make([]assetView, 0, len(assets))
	for i := range assets {
		out = append(out, viewOf(&assets[i]))
	}
	c.JSON(http.StatusOK, gin.H{"assets": out, "count": len(out)})
}

// Get handles GET /api/assets/:id.
func (h *AssetsHandler) Get(c *gin.Context) {
	a, err := h.inv.ItemByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	view := viewOf(a)
	c.JSON(http.StatusOK, gin.H{
		"asset":         view,
		"owner_history": model.OwnerHistoryOf(a),
	})
}

type createAssetRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=64"`
	Description string `json:"description" binding:"max=256"`
	Kind        string `json:"kind" binding:"required,oneof=weapon armor consumable resource"`
	Rarity      string `json:"rarity" binding:"required,oneof=common rare epic legendary"`
	Stats       []int  `json:"stats" binding:"max=8"`
}

// Create handles POST /api/assets: a new unminted item in the caller's
// inventory. Gameplay systems (harvest, craft) call this path too.
func (h *AssetsHandler) Create(c *gin.Context) {
	var req createAssetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a := &model.Asset{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Kind:        req.Kind,
		Rarity:      req.Rarity,
		Stats:       model.StatsJSON(req.Stats),
		Owner:       mw.GetWallet(c),
	}
	if err := h.inv.Create(c.Request.Context(), a); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"asset": viewOf(a)})
}

// Owned handles GET /api/assets/ledger: the caller's on-ledger objects,
// straight from the chain rather than the local inventory.
func (h *AssetsHandler) Owned(c *gin.Context) {
	wallet := mw.GetWallet(c)
	objects, err := h.chain.QueryOwnedAssets(c.Request.Context(), wallet, c.Query("type"))
	if err != nil {
		abortWith(c, err)
		return
	}
	// Annotate each object with the local asset it maps to, when known.
	type ownedView struct {
		ledger.OwnedObject
		AssetID string `json:"asset_id,omitempty"`
	}
	out := make([]ownedView, 0, len(objects))
	for _, o := range objects {
		v := ownedView{OwnedObject: o}
		if id, ok := h.registry.AssetID(o.ObjectID); ok {
			v.AssetID = id
		}
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"objects": out, "count": len(out)})
}
