package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/activity"
	"github.com/hoshinoume/terravale/server/game/lock"
	"github.com/hoshinoume/terravale/server/game/mint"
	"github.com/hoshinoume/terravale/server/game/trade"
	"github.com/hoshinoume/terravale/server/model"
	"github.com/hoshinoume/terravale/server/scheduler"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	db          *gorm.DB
	locks       *lock.Manager
	marketplace *trade.Marketplace
	queue       *mint.Queue
	activities  *activity.Service
	sched       *scheduler.Scheduler
	logger      *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	db *gorm.DB,
	locks *lock.Manager,
	marketplace *trade.Marketplace,
	queue *mint.Queue,
	activities *activity.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		db:          db,
		locks:       locks,
		marketplace: marketplace,
		queue:       queue,
		activities:  activities,
		sched:       sched,
		logger:      logger,
	}
}

// Metrics returns server health metrics.
// GET /api/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"live_locks":        len(h.locks.LockedAssets()),
		"pending_proposals": len(h.marketplace.List(trade.ProposalPending, "")),
		"mint_pending":      h.queue.Pending(),
		"mint_dropped":      h.queue.Dropped(),
		"scheduler_tasks":   h.sched.ListTickers(),
	})
}

// Sweep forces an immediate expiry pass over locks and proposals.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	expiredLocks := h.locks.Sweep()
	expiredProposals := h.marketplace.SweepExpired()
	h.logger.Info("admin sweep",
		zap.Int("expired_locks", expiredLocks),
		zap.Int("expired_proposals", expiredProposals))
	c.JSON(http.StatusOK, gin.H{
		"expired_locks":     expiredLocks,
		"expired_proposals": expiredProposals,
	})
}

// MintNow mints one asset synchronously, bypassing the queue throttle.
// POST /api/admin/mint/:id
func (h *AdminHandler) MintNow(c *gin.Context) {
	tokenID, err := h.queue.MintNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token_id": tokenID})
}

// Activity returns the newest activity log entries.
// GET /api/admin/activity?actor=0x..&limit=50
func (h *AdminHandler) Activity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.activities.Recent(c.Request.Context(), c.Query("actor"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": entries, "count": len(entries)})
}

// BanAccount bans or unbans a player account.
// POST /api/admin/accounts/:id/ban
func (h *AdminHandler) BanAccount(c *gin.Context) {
	accountID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req struct {
		Ban bool `json:"ban"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	status := 1
	if req.Ban {
		status = 0
	}
	result := h.db.Model(&model.Account{}).Where("id = ?", accountID).Update("status", status)
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": status})
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.ListTickers()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
