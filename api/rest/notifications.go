package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/game/notify"
	mw "github.com/hoshinoume/terravale/server/middleware"
)

// NotificationsHandler exposes the per-player notification inbox.
type NotificationsHandler struct {
	notifier *notify.Notifier
}

// NewNotificationsHandler creates a NotificationsHandler.
func NewNotificationsHandler(n *notify.Notifier) *NotificationsHandler {
	return &NotificationsHandler{notifier: n}
}

// List handles GET /api/notifications?unread=true.
func (h *NotificationsHandler) List(c *gin.Context) {
	unreadOnly := c.Query("unread") == "true"
	out := h.notifier.Notifications(mw.GetWallet(c), unreadOnly)
	c.JSON(http.StatusOK, gin.H{"notifications": out, "count": len(out)})
}

// MarkRead handles POST /api/notifications/:id/read.
func (h *NotificationsHandler) MarkRead(c *gin.Context) {
	if !h.notifier.MarkRead(mw.GetWallet(c), c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "notification not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
