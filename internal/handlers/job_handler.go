package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/internal/queue"
	"github.com/worshiptools/lyricsync/pkg/lyrics"
)

// JobHandler handles LRC generation job requests.
type JobHandler struct {
	queue *queue.Queue
}

// NewJobHandler creates a new job handler
func NewJobHandler(q *queue.Queue) *JobHandler {
	return &JobHandler{queue: q}
}

// submitRequest is the job submission body.
type submitRequest struct {
	AudioPath string `json:"audio_path" binding:"required"`
	SourceURL string `json:"source_url"`
	Lyrics    string `json:"lyrics" binding:"required"`
	Options   *struct {
		UseForcedAligner      *bool    `json:"use_forced_aligner"`
		MaxAlignerDurationSec *float64 `json:"max_aligner_duration_sec"`
		Language              string   `json:"language"`
		ForceRecompute        bool     `json:"force_recompute"`
	} `json:"options"`
}

// Submit accepts a generation request and returns the job handle. A cache
// hit returns 200 with the completed job; a fresh submission returns 201.
func (h *JobHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := models.DefaultGenerateOptions()
	if req.Options != nil {
		if req.Options.UseForcedAligner != nil {
			opts.UseForcedAligner = *req.Options.UseForcedAligner
		}
		if req.Options.MaxAlignerDurationSec != nil {
			opts.MaxAlignerDurationSec = *req.Options.MaxAlignerDurationSec
		}
		opts.Language = req.Options.Language
		opts.ForceRecompute = req.Options.ForceRecompute
	}

	job, err := h.queue.Submit(queue.SubmitRequest{
		Audio:      models.AudioRef{Path: req.AudioPath, SourceURL: req.SourceURL},
		LyricsText: req.Lyrics,
		Options:    opts,
	})
	if err != nil {
		if errors.Is(err, queue.ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if job.Status == models.StatusCompleted {
		c.JSON(http.StatusOK, job)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetAll returns all jobs
func (h *JobHandler) GetAll(c *gin.Context) {
	jobs, err := h.queue.ListJobs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetByID returns a job by ID
func (h *JobHandler) GetByID(c *gin.Context) {
	job, err := h.queue.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Cancel cancels a queued or running job
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.queue.Cancel(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// GetLRC serves the rendered LRC artifact for a completed job.
func (h *JobHandler) GetLRC(c *gin.Context) {
	job, err := h.queue.GetJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if job.Status != models.StatusCompleted || job.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job has no result", "status": job.Status})
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+job.ID+`.lrc"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(lyrics.FormatDocument(job.Result)))
}
