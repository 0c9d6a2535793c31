package server

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventReady     = "ready"
	streamEventHeartbeat = "heartbeat"
)

// handleEventStream relays the agent's progression events as server-sent events.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	if h.events == nil {
		respondFailure(c, http.StatusNotFound, errorNotFound)
		return
	}
	userID := currentUserID(c).String()
	ctx := c.Request.Context()
	stream, cancel := h.events.Subscribe(ctx, userID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(streamEventReady, gin.H{"user_id": userID})
	c.Writer.Flush()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	h.logger.Debug("event stream opened", zap.String("user_id", userID))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(event.Kind, event)
			return true
		case now := <-heartbeat.C:
			c.SSEvent(streamEventHeartbeat, gin.H{"timestamp": now.UTC().Unix()})
			return true
		}
	})
	h.logger.Debug("event stream closed", zap.String("user_id", userID))
}
