package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"schedule-reconciler/internal/service"
)

const streamKeepAlive = 15 * time.Second

// streamLog pushes log entries as server-sent events. Clients resume with
// ?since=<seq> or the Last-Event-ID header; entries already evicted from the
// ring buffer are not replayed.
func (h *Handler) streamLog(c *gin.Context) {
	var last uint64
	resume := c.Query("since")
	if resume == "" {
		resume = c.GetHeader("Last-Event-ID")
	}
	if resume != "" {
		seq, err := strconv.ParseUint(resume, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("since must be a non-negative integer"))
			return
		}
		last = seq
	}

	wake := make(chan struct{}, 1)
	sub := h.svc.Subscribe(func(n service.Notification) {
		if n.Entry == nil {
			return
		}
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer sub.Cancel()

	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.WriteHeader(http.StatusOK)

	flush := func() {
		for _, e := range h.svc.LogEntries(last) {
			c.Render(-1, sse.Event{
				Id:    strconv.FormatUint(e.Seq, 10),
				Event: "log",
				Data:  e,
			})
			last = e.Seq
		}
		c.Writer.Flush()
	}
	flush()

	ticker := time.NewTicker(streamKeepAlive)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			flush()
		case <-ticker.C:
			c.Render(-1, sse.Event{Event: "ping", Data: "keepalive"})
			c.Writer.Flush()
		}
	}
}
