package handlers

import (
	"io"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/worshiptools/lyricsync/internal/queue"
	"github.com/worshiptools/lyricsync/internal/services"
)

// ProgressHandler handles progress streaming
type ProgressHandler struct {
	broadcaster *services.ProgressBroadcaster
	queue       *queue.Queue
}

// NewProgressHandler creates a new progress handler
func NewProgressHandler(broadcaster *services.ProgressBroadcaster, q *queue.Queue) *ProgressHandler {
	return &ProgressHandler{
		broadcaster: broadcaster,
		queue:       q,
	}
}

// StreamProgress streams all job progress updates via Server-Sent Events
func (h *ProgressHandler) StreamProgress(c *gin.Context) {
	h.stream(c, "")
}

// StreamJobProgress streams progress updates for one job
func (h *ProgressHandler) StreamJobProgress(c *gin.Context) {
	h.stream(c, c.Param("id"))
}

func (h *ProgressHandler) stream(c *gin.Context, jobID string) {
	// Set headers for SSE
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	clientChan := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(clientChan)

	clientGone := c.Request.Context().Done()

	// Send initial connection confirmation
	c.Writer.Write([]byte("data: {\"message\":\"connected\",\"timestamp\":\"" + time.Now().Format(time.RFC3339) + "\"}\n\n"))
	c.Writer.Flush()

	for {
		select {
		case <-clientGone:
			return
		case update := <-clientChan:
			if jobID != "" && update.JobID != jobID {
				continue
			}
			data := services.FormatSSE(update)
			if data == "" {
				continue
			}
			if _, err := c.Writer.Write([]byte(data)); err != nil {
				if err != io.EOF {
					log.Printf("Error writing SSE data: %v", err)
				}
				return
			}
			c.Writer.Flush()
		case <-time.After(30 * time.Second):
			// Keepalive ping
			c.Writer.Write([]byte(": keepalive\n\n"))
			c.Writer.Flush()
		}
	}
}

// GetStats returns job counts by status plus connected client count.
func (h *ProgressHandler) GetStats(c *gin.Context) {
	counts, err := h.queue.Stats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":              counts,
		"connected_clients": h.broadcaster.ClientCount(),
	})
}
