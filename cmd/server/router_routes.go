package server

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/forgecore/engine/pkg/router"
)

// registerRouterRoutes exposes the JSON-RPC 2.0 surface (initialize,
// notifications/initialized, tools/list, tools/call) over POST /api/mcp
// (spec.md §6, grounded on the teacher's cmd/mcp/mcp.go stdio transport
// adapted to a single HTTP endpoint).
func registerRouterRoutes(rg *gin.RouterGroup, rt *router.Router) {
	rg.POST("", handleMCPRequest(rt))
}

func handleMCPRequest(rt *router.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req router.Request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, apiError{Error: "invalid JSON-RPC envelope: " + err.Error()})
			return
		}

		resp := rt.HandleRequest(c.Request.Context(), req)
		if req.IsNotification() {
			c.Status(http.StatusNoContent)
			return
		}

		c.Data(http.StatusOK, "application/json", mustMarshal(resp))
	}
}

func mustMarshal(resp router.Response) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32603,"message":"failed to marshal response"}}`)
	}
	return b
}
