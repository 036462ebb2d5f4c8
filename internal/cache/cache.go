package cache

import (
	"context"
	"fmt"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/pkg/audio"
)

// Store is the result cache: completed LRC documents keyed by the
// deterministic content key. Get returns (nil, nil) on a miss. Put must be
// idempotent; concurrent duplicate submissions may race on the same key and
// last-writer-wins is fine because the content is deterministic per key.
type Store interface {
	Get(ctx context.Context, key string) (*models.LRCDocument, error)
	Put(ctx context.Context, key string, doc *models.LRCDocument) error
}

// Key derives the cache key for a request: audio content hash, lyrics text
// hash, and a fingerprint of the options that change the output. The same
// inputs always produce the same key.
func Key(audioHash, lyricsText string, opts models.GenerateOptions) string {
	fingerprint := fmt.Sprintf("aligner=%t:maxdur=%.0f:lang=%s",
		opts.UseForcedAligner, opts.MaxAlignerDurationSec, opts.Language)
	return fmt.Sprintf("lrc:%s:%s:%s",
		audioHash, audio.HashBytes([]byte(lyricsText)), audio.HashBytes([]byte(fingerprint)))
}
