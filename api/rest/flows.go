package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/game/flow"
)

// FlowsHandler exposes transaction flow state for client progress UIs.
type FlowsHandler struct {
	flows *flow.Engine
}

// NewFlowsHandler creates a FlowsHandler.
func NewFlowsHandler(flows *flow.Engine) *FlowsHandler {
	return &FlowsHandler{flows: flows}
}

// List handles GET /api/flows, newest first.
func (h *FlowsHandler) List(c *gin.Context) {
	out := h.flows.List()
	if status := c.Query("status"); status != "" {
		filtered := out[:0]
		for _, f := range out {
			if string(f.Status) == status {
				filtered = append(filtered, f)
			}
		}
		out = filtered
	}
	c.JSON(http.StatusOK, gin.H{"flows": out, "count": len(out)})
}

// Get handles GET /api/flows/:id: the full step-by-step snapshot.
func (h *FlowsHandler) Get(c *gin.Context) {
	f, err := h.flows.Get(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"flow": f})
}

// Cancel handles POST /api/flows/:id/cancel. Completed and failed flows
// cannot be cancelled; cancelling a cancelled flow is a no-op.
func (h *FlowsHandler) Cancel(c *gin.Context) {
	if err := h.flows.Cancel(c.Param("id")); err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
