package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JobLogger writes the per-job pipeline audit log. Every generation run gets
// its own log file with phase markers and stage outcomes so a bad timing
// result can be traced back to the source that produced it.
type JobLogger struct {
	jobID     string
	logPath   string
	file      *os.File
	mu        sync.Mutex
	startTime time.Time
}

// NewJobLogger creates a fresh log file for a job under
// <storagePath>/logs/<jobID>/log.txt, replacing any previous run's log.
func NewJobLogger(storagePath, jobID string) (*JobLogger, error) {
	logDir := filepath.Join(storagePath, "logs", jobID)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "log.txt")
	if _, err := os.Stat(logPath); err == nil {
		if err := os.Remove(logPath); err != nil {
			return nil, fmt.Errorf("failed to delete existing log: %w", err)
		}
	}

	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	jl := &JobLogger{
		jobID:     jobID,
		logPath:   logPath,
		file:      file,
		startTime: time.Now(),
	}
	jl.writeHeader()
	return jl, nil
}

func (jl *JobLogger) writeHeader() {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	header := fmt.Sprintf(`================================================================================
LYRICSYNC - LRC GENERATION LOG
Job ID: %s
Started: %s
================================================================================

`, jl.jobID, jl.startTime.Format("2006-01-02 15:04:05 MST"))

	jl.file.WriteString(header)
	jl.file.Sync()
}

// Stage logs the start of a pipeline stage attempt.
func (jl *JobLogger) Stage(name string, description string) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	elapsed := time.Since(jl.startTime).Round(time.Millisecond)
	msg := fmt.Sprintf("\n[%s] ========== STAGE: %s ==========\n", elapsed, name)
	if description != "" {
		msg += fmt.Sprintf("Description: %s\n", description)
	}
	msg += "\n"

	jl.file.WriteString(msg)
	jl.file.Sync()
}

// Info logs an informational message
func (jl *JobLogger) Info(format string, args ...interface{}) {
	jl.log("INFO", format, args...)
}

// Warn logs a warning message
func (jl *JobLogger) Warn(format string, args ...interface{}) {
	jl.log("WARN", format, args...)
}

// Error logs an error message
func (jl *JobLogger) Error(format string, args ...interface{}) {
	jl.log("ERROR", format, args...)
}

// Success logs a success message
func (jl *JobLogger) Success(format string, args ...interface{}) {
	jl.log("SUCCESS", format, args...)
}

// Property logs a key-value property
func (jl *JobLogger) Property(key string, value interface{}) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	elapsed := time.Since(jl.startTime).Round(time.Millisecond)
	msg := fmt.Sprintf("[%s] PROPERTY: %s = %v\n", elapsed, key, value)

	jl.file.WriteString(msg)
	jl.file.Sync()
}

func (jl *JobLogger) log(level string, format string, args ...interface{}) {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	elapsed := time.Since(jl.startTime).Round(time.Millisecond)
	message := fmt.Sprintf(format, args...)
	msg := fmt.Sprintf("[%s] %s: %s\n", elapsed, level, message)

	jl.file.WriteString(msg)
	jl.file.Sync()
}

// Close writes the footer and closes the log file.
func (jl *JobLogger) Close(success bool, finalMessage string) error {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	elapsed := time.Since(jl.startTime).Round(time.Millisecond)
	endTime := time.Now()

	status := "COMPLETED SUCCESSFULLY"
	if !success {
		status = "FAILED"
	}

	footer := fmt.Sprintf(`
================================================================================
GENERATION %s
Duration: %s
Completed: %s
%s
================================================================================
`, status, elapsed, endTime.Format("2006-01-02 15:04:05 MST"), finalMessage)

	jl.file.WriteString(footer)
	jl.file.Sync()

	return jl.file.Close()
}

// GetLogPath returns the path to the log file
func (jl *JobLogger) GetLogPath() string {
	return jl.logPath
}
