package audio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.wav")
	pathB := filepath.Join(dir, "b.wav")
	require.NoError(t, os.WriteFile(pathA, []byte("same audio bytes"), 0644))
	require.NoError(t, os.WriteFile(pathB, []byte("same audio bytes"), 0644))

	hashA, err := ContentHash(pathA)
	require.NoError(t, err)
	hashB, err := ContentHash(pathB)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB, "identical bytes must hash the same regardless of path")
	assert.Len(t, hashA, 64)
	assert.Equal(t, HashBytes([]byte("same audio bytes")), hashA)
}

func TestContentHashDiffers(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.wav")
	pathB := filepath.Join(dir, "b.wav")
	require.NoError(t, os.WriteFile(pathA, []byte("audio one"), 0644))
	require.NoError(t, os.WriteFile(pathB, []byte("audio two"), 0644))

	hashA, _ := ContentHash(pathA)
	hashB, _ := ContentHash(pathB)
	assert.NotEqual(t, hashA, hashB)
}

func TestContentHashMissingFile(t *testing.T) {
	_, err := ContentHash(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}
