package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisClient "github.com/go-redis/redis/v8"

	"github.com/worshiptools/lyricsync/internal/models"
)

// RedisStore is the redis-backed result cache, for deployments where several
// instances share one cache.
type RedisStore struct {
	client *redisClient.Client
	ttl    time.Duration
}

// NewRedisStore connects to redis using a redis:// or rediss:// URL. A zero
// ttl keeps documents forever.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redisClient.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &RedisStore{client: redisClient.NewClient(opt), ttl: ttl}, nil
}

// Get returns the cached document for a key, or nil on a miss.
func (s *RedisStore) Get(ctx context.Context, key string) (*models.LRCDocument, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redisClient.Nil {
			return nil, nil
		}
		return nil, err
	}

	var doc models.LRCDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode cached document: %w", err)
	}
	return &doc, nil
}

// Put stores a document under a key, replacing any previous value.
func (s *RedisStore) Put(ctx context.Context, key string, doc *models.LRCDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	return s.client.Set(ctx, key, data, s.ttl).Err()
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
