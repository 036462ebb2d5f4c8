package services

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
)

// ProgressUpdate represents one job progress event.
type ProgressUpdate struct {
	JobID        string    `json:"job_id"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage,omitempty"`
	Message      string    `json:"message"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProgressBroadcaster fans job progress out to SSE subscribers. Callers poll
// or stream; nothing in the pipeline ever blocks on a slow consumer.
type ProgressBroadcaster struct {
	clients map[chan ProgressUpdate]bool
	mutex   sync.RWMutex
}

// NewProgressBroadcaster creates a new progress broadcaster
func NewProgressBroadcaster() *ProgressBroadcaster {
	return &ProgressBroadcaster{
		clients: make(map[chan ProgressUpdate]bool),
	}
}

// Subscribe adds a new client to receive progress updates
func (pb *ProgressBroadcaster) Subscribe() chan ProgressUpdate {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()

	client := make(chan ProgressUpdate, 16)
	pb.clients[client] = true
	return client
}

// Unsubscribe removes a client from receiving updates
func (pb *ProgressBroadcaster) Unsubscribe(client chan ProgressUpdate) {
	pb.mutex.Lock()
	defer pb.mutex.Unlock()

	if _, ok := pb.clients[client]; ok {
		delete(pb.clients, client)
		close(client)
	}
}

// Broadcast sends a progress update to all connected clients
func (pb *ProgressBroadcaster) Broadcast(update ProgressUpdate) {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()

	update.Timestamp = time.Now()

	for client := range pb.clients {
		select {
		case client <- update:
			// Successfully sent
		default:
			// Client buffer full, skip
			log.Printf("Warning: client buffer full, skipping update for job %s", update.JobID)
		}
	}
}

// BroadcastJob converts a job to a progress update and broadcasts it.
func (pb *ProgressBroadcaster) BroadcastJob(job *models.Job, stage, message string) {
	pb.Broadcast(ProgressUpdate{
		JobID:        job.ID,
		Status:       job.Status,
		Stage:        stage,
		Message:      message,
		ErrorMessage: job.ErrorMessage,
	})
}

// FormatSSE renders an update as a server-sent event payload.
func FormatSSE(update ProgressUpdate) string {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("Error marshaling progress update: %v", err)
		return ""
	}
	return "data: " + string(data) + "\n\n"
}

// ClientCount returns the number of connected clients
func (pb *ProgressBroadcaster) ClientCount() int {
	pb.mutex.RLock()
	defer pb.mutex.RUnlock()
	return len(pb.clients)
}
