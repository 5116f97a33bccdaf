package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/jobmanager"
)

// upgrader has permissive origin checking: the engine is meant to sit behind
// the same CORS allow-list as the rest of the API, not behind the browser's
// same-origin default.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const eventStreamKeepAlive = 20 * time.Second

// registerEventsRoutes wires GET /events?jobId=<id>, negotiating between a
// WebSocket upgrade and an SSE fallback by inspecting the request's Upgrade
// header (spec.md §4.1/§6). No teacher example in the pack drives
// gorilla/websocket server-side, so this handler is written directly
// against the library's own documented Upgrader/Conn API rather than an
// adapted teacher file.
func registerEventsRoutes(engine *gin.Engine, manager *jobmanager.Manager, log logging.ExtendedLogger) {
	engine.GET("/events", handleEvents(manager, log))
}

func handleEvents(manager *jobmanager.Manager, log logging.ExtendedLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Query("jobId")
		if jobID == "" {
			c.JSON(http.StatusBadRequest, apiError{Error: "jobId query parameter is required"})
			return
		}
		if _, err := manager.Status(jobID); err != nil {
			c.JSON(http.StatusNotFound, apiError{Error: "job not found"})
			return
		}

		sub := manager.Subscribe(jobID)
		defer sub.Close()

		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
			streamWebSocket(c, sub, log)
			return
		}
		streamSSE(c, sub, log)
	}
}

func streamWebSocket(c *gin.Context, sub *jobevents.Subscription, log logging.ExtendedLogger) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithField("error", err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(eventStreamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

func streamSSE(c *gin.Context, sub *jobevents.Subscription, log logging.ExtendedLogger) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, apiError{Error: "streaming unsupported"})
		return
	}

	ticker := time.NewTicker(eventStreamKeepAlive)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				fmt.Fprintf(c.Writer, "event: done\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			b, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", b)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(c.Writer, ": keep-alive\n\n")
			flusher.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
