package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hoshinoume/terravale/server/errs"
)

// abortWith maps an engine error onto an HTTP response. Unknown errors are
// hidden behind a generic 500 so internals never leak to clients.
func abortWith(c *gin.Context, err error) {
	e := errs.AsError(err)
	if e == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.Validation:
		status = http.StatusBadRequest
		if e.Code == errs.CodeNotFound {
			status = http.StatusNotFound
		}
	case errs.Conflict:
		status = http.StatusConflict
	case errs.External:
		status = http.StatusBadGateway
	}
	body := gin.H{"error": e.Msg, "code": e.Code}
	if len(e.Detail) > 0 {
		body["detail"] = e.Detail
	}
	c.JSON(status, body)
}
