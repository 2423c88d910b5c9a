package handlers

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadscope/threadscope-backend/internal/logger"
	"github.com/threadscope/threadscope-backend/internal/realtime"
	"github.com/threadscope/threadscope-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewSSEHandler(log *logger.Logger, hub *sse.Hub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// GET /sse/stream?job_id=
// Streams job progress events. With job_id the client follows one job's
// channel; without it, the global jobs channel.
func (h *SSEHandler) SSEStream(c *gin.Context) {
	channel := realtime.GlobalChannel
	if raw := c.Query("job_id"); raw != "" {
		jobID, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, 400, "invalid_job_id", err)
			return
		}
		channel = jobID.String()
	}

	client := h.hub.NewClient()
	h.hub.Subscribe(client, channel)
	defer h.hub.RemoveClient(client)

	h.log.Info("sse stream open", "client_id", client.ID, "channel", channel)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case msg, ok := <-client.Outbound:
			if !ok {
				return false
			}
			payload, err := json.Marshal(msg.Data)
			if err != nil {
				h.log.Warn("sse payload marshal failed", "event", msg.Event, "error", err)
				return true
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, payload)
			return true
		}
	})

	h.log.Info("sse stream closed", "client_id", client.ID, "channel", channel)
}
