package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"

	"docuchat.app/engine/internal/agent"
	"docuchat.app/engine/internal/http/middleware"
)

// Stream handles POST /agent/stream, sending trace entries as SSE events
// while the run executes, then a terminal complete or error event.
func (h *AgentHandler) Stream(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}

	user := middleware.CurrentUser(c)
	userID := strconv.FormatInt(user.ID, 10)

	setSSEHeaders(c)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "streaming unsupported",
			"code":  codeInternalError,
		})
		return
	}

	// The sink runs on the executor goroutine's call stack; writes to the
	// response must not interleave with the terminal event.
	var writeMu sync.Mutex
	sink := func(entry agent.TraceEntry) {
		writeMu.Lock()
		defer writeMu.Unlock()
		sseWrite(c, flusher, "trace", entry)
	}

	result, err := h.agents.RunStream(c.Request.Context(), userID, req.Question, req.Rerank, sink)

	writeMu.Lock()
	defer writeMu.Unlock()

	if err != nil {
		slog.ErrorContext(c.Request.Context(), "streaming run failed", "error", err)
		sseWrite(c, flusher, "error", gin.H{
			"error": "agent execution failed",
			"code":  codeAgentError,
		})
		return
	}

	sseWrite(c, flusher, "complete", h.buildResponse(result, req.ReturnTrace))
}

func setSSEHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

func sseWrite(c *gin.Context, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "marshaling sse payload", "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
