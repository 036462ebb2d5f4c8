package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/worshiptools/lyricsync/internal/cache"
	"github.com/worshiptools/lyricsync/internal/metrics"
	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/internal/services"
	"github.com/worshiptools/lyricsync/pkg/audio"
	"github.com/worshiptools/lyricsync/pkg/lyrics"
)

// Concurrency classes. Jobs that need ASR or the forced aligner are compute-
// bound on the model host and run under the lower heavy ceiling; jobs that
// can ride a published transcript are I/O-bound and run under the higher
// light ceiling.
const (
	ClassHeavy = "heavy"
	ClassLight = "light"
)

// ErrInvalidRequest marks a submission rejected before queueing.
var ErrInvalidRequest = errors.New("invalid generation request")

// Repository is the job store the queue drives. Implementations must
// serialize writes per job; the sqlite repository does this with a single
// writer connection.
type Repository interface {
	Create(job *models.Job, class string) error
	Update(job *models.Job) error
	GetByID(id string) (*models.Job, error)
	GetAll() ([]models.Job, error)
	GetNextQueued(class string) (*models.Job, error)
	CountByStatus() (map[string]int, error)
}

// Runner executes the generation pipeline for one job.
type Runner interface {
	Run(ctx context.Context, job *models.Job) (*models.LRCDocument, error)
}

// SubmitRequest is one generation request.
type SubmitRequest struct {
	Audio      models.AudioRef
	LyricsText string
	Options    models.GenerateOptions
}

// Config holds the queue's concurrency ceilings and poll cadence.
// ArtifactDir, when set, receives a rendered <jobID>.lrc file per completed
// job.
type Config struct {
	HeavyLimit   int64
	LightLimit   int64
	PollInterval time.Duration
	ArtifactDir  string
}

// Queue accepts generation jobs, answers duplicates from the result cache,
// and dispatches queued jobs to the pipeline under per-class concurrency
// ceilings.
type Queue struct {
	repo        Repository
	store       cache.Store
	runner      Runner
	broadcaster *services.ProgressBroadcaster
	hasher      func(audioPath string) (string, error)

	heavySem     *semaphore.Weighted
	lightSem     *semaphore.Weighted
	pollInterval time.Duration
	artifactDir  string

	mu      sync.Mutex
	running map[string]context.CancelFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a job queue. broadcaster may be nil.
func NewQueue(repo Repository, store cache.Store, runner Runner, broadcaster *services.ProgressBroadcaster, cfg Config) *Queue {
	if cfg.HeavyLimit <= 0 {
		cfg.HeavyLimit = 2
	}
	if cfg.LightLimit <= 0 {
		cfg.LightLimit = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		repo:         repo,
		store:        store,
		runner:       runner,
		broadcaster:  broadcaster,
		hasher:       audio.ContentHash,
		heavySem:     semaphore.NewWeighted(cfg.HeavyLimit),
		lightSem:     semaphore.NewWeighted(cfg.LightLimit),
		pollInterval: cfg.PollInterval,
		artifactDir:  cfg.ArtifactDir,
		running:      make(map[string]context.CancelFunc),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Submit validates a request and either answers it from the cache or queues
// it for the dispatcher. It returns the job handle immediately; a cache hit
// comes back already completed without consuming a worker slot.
func (q *Queue) Submit(req SubmitRequest) (*models.Job, error) {
	if strings.TrimSpace(req.Audio.Path) == "" {
		return nil, fmt.Errorf("%w: audio path is required", ErrInvalidRequest)
	}
	lines, err := lyrics.ParseLines(req.LyricsText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.Options.MaxAlignerDurationSec < 0 {
		return nil, fmt.Errorf("%w: max aligner duration must not be negative", ErrInvalidRequest)
	}

	audioHash, err := q.hasher(req.Audio.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	job := &models.Job{
		ID:         uuid.NewString(),
		Audio:      req.Audio,
		LyricsText: req.LyricsText,
		Lyrics:     lines,
		Options:    req.Options,
		Status:     models.StatusQueued,
		CacheKey:   cache.Key(audioHash, req.LyricsText, req.Options),
		QueuedAt:   time.Now(),
	}

	if !req.Options.ForceRecompute {
		if doc, err := q.store.Get(q.ctx, job.CacheKey); err != nil {
			log.Printf("Warning: cache lookup failed for job %s: %v", job.ID, err)
		} else if doc != nil {
			now := time.Now()
			job.Status = models.StatusCompleted
			job.Result = doc
			job.CompletedAt = &now
			if err := q.repo.Create(job, classify(job)); err != nil {
				return nil, fmt.Errorf("failed to persist job: %w", err)
			}
			metrics.CacheHits.Inc()
			metrics.RecordJob(job)
			log.Printf("Job %s answered from cache (key %s)", job.ID, job.CacheKey)
			return job, nil
		}
	}

	if err := q.repo.Create(job, classify(job)); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	if q.broadcaster != nil {
		q.broadcaster.BroadcastJob(job, "", "Job queued")
	}
	return job, nil
}

// classify picks a job's concurrency class. A source URL means the caption
// transcript branch may satisfy the job without touching the model hosts.
func classify(job *models.Job) string {
	if job.Audio.SourceURL != "" {
		return ClassLight
	}
	return ClassHeavy
}

// Start launches the background dispatcher.
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.dispatchLoop()
	log.Printf("Job queue dispatcher started (poll %s)", q.pollInterval)
}

// Stop cancels running jobs and waits for workers to exit.
func (q *Queue) Stop() {
	log.Println("Stopping job queue...")
	q.cancel()
	q.wg.Wait()
	log.Println("Job queue stopped")
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	q.dispatchReady()
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatchReady()
		}
	}
}

// dispatchReady drains each class queue while slots are free.
func (q *Queue) dispatchReady() {
	q.dispatchClass(ClassHeavy, q.heavySem)
	q.dispatchClass(ClassLight, q.lightSem)
}

func (q *Queue) dispatchClass(class string, sem *semaphore.Weighted) {
	for {
		if !sem.TryAcquire(1) {
			return
		}

		job, err := q.nextQueued(class)
		if err != nil {
			log.Printf("Error fetching next %s job: %v", class, err)
			sem.Release(1)
			return
		}
		if job == nil {
			sem.Release(1)
			return
		}

		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			defer sem.Release(1)
			q.runJob(job)
		}()
	}
}

// nextQueued claims the oldest queued job of a class by flipping it to
// running before any worker touches it. The claim happens under the queue
// lock so a concurrent Cancel cannot race the transition.
func (q *Queue) nextQueued(class string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.repo.GetNextQueued(class)
	if err != nil || job == nil {
		return nil, err
	}

	now := time.Now()
	job.Status = models.StatusRunning
	job.StartedAt = &now
	if err := q.repo.Update(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) runJob(job *models.Job) {
	jobCtx, jobCancel := context.WithCancel(q.ctx)
	q.mu.Lock()
	q.running[job.ID] = jobCancel
	q.mu.Unlock()

	defer func() {
		jobCancel()
		q.mu.Lock()
		delete(q.running, job.ID)
		q.mu.Unlock()
	}()

	if q.broadcaster != nil {
		q.broadcaster.BroadcastJob(job, "", "Processing started")
	}
	log.Printf("Processing job %s", job.ID)

	doc, err := q.runner.Run(jobCtx, job)
	now := time.Now()
	job.CompletedAt = &now

	switch {
	case err == nil:
		job.Status = models.StatusCompleted
		job.Result = doc
		if cacheErr := q.store.Put(q.ctx, job.CacheKey, doc); cacheErr != nil {
			log.Printf("Warning: failed to cache result for job %s: %v", job.ID, cacheErr)
		}
		q.writeArtifact(job)
	case errors.Is(err, context.Canceled):
		job.Status = models.StatusCancelled
		job.ErrorMessage = "cancelled"
	default:
		// Preserved verbatim for operator diagnosis.
		job.Status = models.StatusFailed
		job.ErrorMessage = err.Error()
	}

	if updateErr := q.repo.Update(job); updateErr != nil {
		log.Printf("Error updating job %s: %v", job.ID, updateErr)
		return
	}

	metrics.RecordJob(job)
	if q.broadcaster != nil {
		q.broadcaster.BroadcastJob(job, "", "Processing "+job.Status)
	}
	log.Printf("Job %s %s", job.ID, job.Status)
}

// writeArtifact renders the finished document to <artifactDir>/<jobID>.lrc.
// The file is a convenience copy; the database row stays authoritative.
func (q *Queue) writeArtifact(job *models.Job) {
	if q.artifactDir == "" || job.Result == nil {
		return
	}
	if err := os.MkdirAll(q.artifactDir, 0755); err != nil {
		log.Printf("Warning: failed to create artifact directory: %v", err)
		return
	}
	path := filepath.Join(q.artifactDir, job.ID+".lrc")
	if err := os.WriteFile(path, []byte(lyrics.FormatDocument(job.Result)), 0644); err != nil {
		log.Printf("Warning: failed to write LRC artifact for job %s: %v", job.ID, err)
	}
}

// Cancel cancels a queued or running job. Terminal jobs are left untouched
// and reported back as-is.
func (q *Queue) Cancel(id string) (*models.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	switch job.Status {
	case models.StatusQueued:
		now := time.Now()
		job.Status = models.StatusCancelled
		job.ErrorMessage = "cancelled before dispatch"
		job.CompletedAt = &now
		if err := q.repo.Update(job); err != nil {
			return nil, err
		}
		metrics.RecordJob(job)
	case models.StatusRunning:
		if jobCancel, ok := q.running[id]; ok {
			jobCancel()
		}
	}
	return job, nil
}

// GetJob returns a job by ID.
func (q *Queue) GetJob(id string) (*models.Job, error) {
	return q.repo.GetByID(id)
}

// ListJobs returns all jobs, newest first.
func (q *Queue) ListJobs() ([]models.Job, error) {
	return q.repo.GetAll()
}

// Stats returns job counts by status.
func (q *Queue) Stats() (map[string]int, error) {
	return q.repo.CountByStatus()
}
