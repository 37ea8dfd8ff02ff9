package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// sseKeepAlive ist das Intervall für Kommentarzeilen ohne Ereignisse
const sseKeepAlive = 25 * time.Second

// StreamEvents behandelt SSE-Verbindungen für Echtzeit-Updates
func (h *APIHandler) StreamEvents(c *gin.Context) {
	// SSE-Header setzen
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	client, unsubscribe := h.deps.Events.Subscribe(16)
	defer unsubscribe()

	c.Status(http.StatusOK)
	fmt.Fprint(c.Writer, ": connected\n\n")
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-keepAlive.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case evt, ok := <-client:
			if !ok {
				// Kanal geschlossen (Hub beendet oder Client zu langsam)
				return
			}
			data, err := evt.Encode()
			if err != nil {
				log.WithError(err).Warnf("Failed to encode %s event", evt.Type)
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", evt.Type, data)
			c.Writer.Flush()
		}
	}
}
