package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/worshiptools/lyricsync/internal/models"
)

func TestKeyDeterministic(t *testing.T) {
	opts := models.DefaultGenerateOptions()
	a := Key("abc123", "Amazing grace\nHow sweet", opts)
	b := Key("abc123", "Amazing grace\nHow sweet", opts)
	assert.Equal(t, a, b)
}

func TestKeyVariesWithInputs(t *testing.T) {
	opts := models.DefaultGenerateOptions()
	base := Key("abc123", "lyrics", opts)

	assert.NotEqual(t, base, Key("def456", "lyrics", opts), "different audio")
	assert.NotEqual(t, base, Key("abc123", "other lyrics", opts), "different lyrics")

	noAligner := opts
	noAligner.UseForcedAligner = false
	assert.NotEqual(t, base, Key("abc123", "lyrics", noAligner), "different options")
}

func TestKeyIgnoresForceRecompute(t *testing.T) {
	opts := models.DefaultGenerateOptions()
	forced := opts
	forced.ForceRecompute = true
	assert.Equal(t, Key("abc123", "lyrics", opts), Key("abc123", "lyrics", forced),
		"force_recompute bypasses the cache but must not change the key")
}
