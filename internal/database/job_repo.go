package database

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/worshiptools/lyricsync/internal/models"
)

// JobRepository handles job persistence.
type JobRepository struct {
	db *sql.DB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, audio, lyrics_text, lyrics, options, class, status,
	stage_log, COALESCE(result, ''), error_message, cache_key,
	queued_at, started_at, completed_at`

// Create persists a new job.
func (r *JobRepository) Create(job *models.Job, class string) error {
	audio, lyricsJSON, options, stageLog, result, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`INSERT INTO jobs
		(id, audio, lyrics_text, lyrics, options, class, status, stage_log, result, error_message, cache_key, queued_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, audio, job.LyricsText, lyricsJSON, options, class, job.Status,
		stageLog, result, job.ErrorMessage, job.CacheKey,
		job.QueuedAt, job.StartedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Update rewrites a job's mutable fields.
func (r *JobRepository) Update(job *models.Job) error {
	_, _, options, stageLog, result, err := marshalJobFields(job)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`UPDATE jobs SET status=?, options=?, stage_log=?, result=?,
		error_message=?, started_at=?, completed_at=? WHERE id=?`,
		job.Status, options, stageLog, result,
		job.ErrorMessage, job.StartedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

// GetByID returns a job by ID, or nil when it does not exist.
func (r *JobRepository) GetByID(id string) (*models.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// GetAll returns all jobs, newest first.
func (r *JobRepository) GetAll() ([]models.Job, error) {
	rows, err := r.db.Query(`SELECT ` + jobColumns + ` FROM jobs ORDER BY queued_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// GetNextQueued returns the oldest queued job for a concurrency class, or
// nil when the class has nothing waiting.
func (r *JobRepository) GetNextQueued(class string) (*models.Job, error) {
	row := r.db.QueryRow(`SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND class = ? ORDER BY queued_at ASC LIMIT 1`,
		models.StatusQueued, class)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// CountByStatus returns job counts keyed by status.
func (r *JobRepository) CountByStatus() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var audio, lyricsJSON, options, stageLog, result, class string

	err := row.Scan(
		&job.ID, &audio, &job.LyricsText, &lyricsJSON, &options, &class, &job.Status,
		&stageLog, &result, &job.ErrorMessage, &job.CacheKey,
		&job.QueuedAt, &job.StartedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(audio), &job.Audio); err != nil {
		return nil, fmt.Errorf("failed to decode job audio: %w", err)
	}
	if err := json.Unmarshal([]byte(lyricsJSON), &job.Lyrics); err != nil {
		return nil, fmt.Errorf("failed to decode job lyrics: %w", err)
	}
	if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
		return nil, fmt.Errorf("failed to decode job options: %w", err)
	}
	if err := json.Unmarshal([]byte(stageLog), &job.StageLog); err != nil {
		return nil, fmt.Errorf("failed to decode job stage log: %w", err)
	}
	if result != "" {
		job.Result = &models.LRCDocument{}
		if err := json.Unmarshal([]byte(result), job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode job result: %w", err)
		}
	}
	return &job, nil
}

func marshalJobFields(job *models.Job) (audio, lyricsJSON, options, stageLog string, result interface{}, err error) {
	audioBytes, err := json.Marshal(job.Audio)
	if err != nil {
		return "", "", "", "", nil, fmt.Errorf("failed to encode job audio: %w", err)
	}
	lyricsBytes, err := json.Marshal(job.Lyrics)
	if err != nil {
		return "", "", "", "", nil, fmt.Errorf("failed to encode job lyrics: %w", err)
	}
	optionsBytes, err := json.Marshal(job.Options)
	if err != nil {
		return "", "", "", "", nil, fmt.Errorf("failed to encode job options: %w", err)
	}
	stageLogValue := job.StageLog
	if stageLogValue == nil {
		stageLogValue = []models.StageOutcome{}
	}
	stageLogBytes, err := json.Marshal(stageLogValue)
	if err != nil {
		return "", "", "", "", nil, fmt.Errorf("failed to encode job stage log: %w", err)
	}

	result = nil
	if job.Result != nil {
		resultBytes, err := json.Marshal(job.Result)
		if err != nil {
			return "", "", "", "", nil, fmt.Errorf("failed to encode job result: %w", err)
		}
		result = string(resultBytes)
	}
	return string(audioBytes), string(lyricsBytes), string(optionsBytes), string(stageLogBytes), result, nil
}
