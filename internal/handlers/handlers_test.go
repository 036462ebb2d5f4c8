package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/internal/queue"
	"github.com/worshiptools/lyricsync/internal/services"
)

type memRepo struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	cls  map[string]string
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]*models.Job), cls: make(map[string]string)}
}

func (r *memRepo) Create(job *models.Job, class string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	r.cls[job.ID] = class
	return nil
}

func (r *memRepo) Update(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *memRepo) GetByID(id string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	clone := *job
	return &clone, nil
}

func (r *memRepo) GetAll() ([]models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Job
	for _, j := range r.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (r *memRepo) GetNextQueued(class string) (*models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var oldest *models.Job
	for id, j := range r.jobs {
		if j.Status != models.StatusQueued || r.cls[id] != class {
			continue
		}
		if oldest == nil || j.QueuedAt.Before(oldest.QueuedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	clone := *oldest
	return &clone, nil
}

func (r *memRepo) CountByStatus() (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, j := range r.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

type memStore struct {
	mu   sync.Mutex
	docs map[string]*models.LRCDocument
}

func newMemStore() *memStore {
	return &memStore{docs: make(map[string]*models.LRCDocument)}
}

func (s *memStore) Get(ctx context.Context, key string) (*models.LRCDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[key], nil
}

func (s *memStore) Put(ctx context.Context, key string, doc *models.LRCDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = doc
	return nil
}

type instantRunner struct{}

func (instantRunner) Run(ctx context.Context, job *models.Job) (*models.LRCDocument, error) {
	return &models.LRCDocument{
		Lines: []models.MappedLine{
			{Line: job.Lyrics[0], StartSec: 1.5, EndSec: 3.0, Matched: true},
			{Line: job.Lyrics[1], StartSec: 3.0, EndSec: 5.25, Matched: true},
		},
		ProducedBy:  models.StageASR,
		DurationSec: 10,
	}, nil
}

type testEnv struct {
	router *gin.Engine
	queue  *queue.Queue
}

func newTestEnv(t *testing.T, startQueue bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	broadcaster := services.NewProgressBroadcaster()
	q := queue.NewQueue(newMemRepo(), newMemStore(), instantRunner{}, broadcaster, queue.Config{
		HeavyLimit:   2,
		LightLimit:   4,
		PollInterval: 10 * time.Millisecond,
	})
	if startQueue {
		q.Start()
		t.Cleanup(q.Stop)
	}

	jobHandler := NewJobHandler(q)
	progressHandler := NewProgressHandler(broadcaster, q)

	router := gin.New()
	v1 := router.Group("/api/v1")
	jobs := v1.Group("/jobs")
	jobs.GET("", jobHandler.GetAll)
	jobs.POST("", jobHandler.Submit)
	jobs.GET("/:id", jobHandler.GetByID)
	jobs.POST("/:id/cancel", jobHandler.Cancel)
	jobs.GET("/:id/lrc", jobHandler.GetLRC)
	v1.GET("/progress/stats", progressHandler.GetStats)

	return &testEnv{router: router, queue: q}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) waitForStatus(t *testing.T, id, status string) *models.Job {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("job %s never reached %s", id, status)
			return nil
		case <-time.After(10 * time.Millisecond):
			job, err := e.queue.GetJob(id)
			require.NoError(t, err)
			if job != nil && job.Status == status {
				return job
			}
		}
	}
}

func audioFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocals.wav")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func submitBody(audioPath string) map[string]interface{} {
	return map[string]interface{}{
		"audio_path": audioPath,
		"lyrics":     "Amazing grace\nHow sweet the sound",
	}
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) models.Job {
	t.Helper()
	var job models.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	return job
}

func TestSubmitReturnsQueuedJob(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(audioFixture(t, "audio")))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	job := decodeJob(t, w)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.NotEmpty(t, job.CacheKey)
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	env := newTestEnv(t, false)

	body := submitBody(filepath.Join(t.TempDir(), "missing.wav"))
	w := env.do(t, http.MethodPost, "/api/v1/jobs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = submitBody(audioFixture(t, "audio"))
	body["lyrics"] = "[Chorus]\n\n"
	w = env.do(t, http.MethodPost, "/api/v1/jobs", body)
	assert.Equal(t, http.StatusBadRequest, w.Code, "lyrics with no singable lines are rejected")
}

func TestSubmitCacheHitReturnsOK(t *testing.T) {
	env := newTestEnv(t, true)

	path := audioFixture(t, "same audio")
	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(path))
	require.Equal(t, http.StatusCreated, w.Code)
	first := decodeJob(t, w)
	env.waitForStatus(t, first.ID, models.StatusCompleted)

	w = env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(path))
	require.Equal(t, http.StatusOK, w.Code, "duplicate submission answers from cache")
	second := decodeJob(t, w)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.NotNil(t, second.Result)
}

func TestSubmitOptionsOverrideDefaults(t *testing.T) {
	env := newTestEnv(t, false)

	body := submitBody(audioFixture(t, "audio"))
	body["options"] = map[string]interface{}{
		"use_forced_aligner":       false,
		"max_aligner_duration_sec": 120,
		"language":                 "zh",
	}
	w := env.do(t, http.MethodPost, "/api/v1/jobs", body)
	require.Equal(t, http.StatusCreated, w.Code)

	job := decodeJob(t, w)
	assert.False(t, job.Options.UseForcedAligner)
	assert.Equal(t, float64(120), job.Options.MaxAlignerDurationSec)
	assert.Equal(t, "zh", job.Options.Language)
}

func TestGetByIDNotFound(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodGet, "/api/v1/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelQueuedJob(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(audioFixture(t, "audio")))
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)

	w = env.do(t, http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	cancelled := decodeJob(t, w)
	assert.Equal(t, models.StatusCancelled, cancelled.Status)
}

func TestGetLRCServesArtifact(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(audioFixture(t, "audio")))
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)
	env.waitForStatus(t, job.ID, models.StatusCompleted)

	w = env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/lrc", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Header().Get("Content-Disposition"), job.ID+".lrc")
	assert.Contains(t, w.Body.String(), "[00:01.50] Amazing grace")
	assert.Contains(t, w.Body.String(), "[00:03.00] How sweet the sound")
}

func TestGetLRCBeforeCompletionIs404(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(audioFixture(t, "audio")))
	require.Equal(t, http.StatusCreated, w.Code)
	job := decodeJob(t, w)

	w = env.do(t, http.MethodGet, "/api/v1/jobs/"+job.ID+"/lrc", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.do(t, http.MethodPost, "/api/v1/jobs", submitBody(audioFixture(t, "audio")))
	require.Equal(t, http.StatusCreated, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/progress/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats struct {
		Jobs             map[string]int `json:"jobs"`
		ConnectedClients int            `json:"connected_clients"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Jobs[models.StatusQueued])
	assert.Equal(t, 0, stats.ConnectedClients)
}
