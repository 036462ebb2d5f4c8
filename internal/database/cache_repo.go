package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
)

// CacheRepository is the sqlite-backed LRC result cache. Put is idempotent:
// writing the same key twice replaces the row, which is safe because the
// document is deterministic for a given key.
type CacheRepository struct {
	db *sql.DB
}

// NewCacheRepository creates a new cache repository
func NewCacheRepository(db *sql.DB) *CacheRepository {
	return &CacheRepository{db: db}
}

// Get returns the cached document for a key, or nil on a miss.
func (r *CacheRepository) Get(ctx context.Context, key string) (*models.LRCDocument, error) {
	var document string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM lrc_cache WHERE key = ?`, key).Scan(&document)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc models.LRCDocument
	if err := json.Unmarshal([]byte(document), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cached document: %w", err)
	}
	return &doc, nil
}

// Put stores a document under a key, replacing any previous value.
func (r *CacheRepository) Put(ctx context.Context, key string, doc *models.LRCDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lrc_cache (key, document, produced_by, created_at) VALUES (?, ?, ?, ?)`,
		key, string(data), doc.ProducedBy, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}
