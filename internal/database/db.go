package database

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	audio TEXT NOT NULL,
	lyrics_text TEXT NOT NULL,
	lyrics TEXT NOT NULL,
	options TEXT NOT NULL,
	class TEXT NOT NULL DEFAULT 'heavy',
	status TEXT NOT NULL,
	stage_log TEXT NOT NULL DEFAULT '[]',
	result TEXT,
	error_message TEXT NOT NULL DEFAULT '',
	cache_key TEXT NOT NULL DEFAULT '',
	queued_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, queued_at);

CREATE TABLE IF NOT EXISTS lrc_cache (
	key TEXT PRIMARY KEY,
	document TEXT NOT NULL,
	produced_by TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
`

// InitDB opens the sqlite database, creating the file and schema if needed,
// and returns the connection. Writes are serialized through a single
// connection so concurrent job and cache updates never corrupt the store.
func InitDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent job updates.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	log.Printf("Database initialized at %s", dbPath)
	return db, nil
}
