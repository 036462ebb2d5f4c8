package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
)

// ProbeResult holds the audio properties the pipeline needs before any
// timing source is invoked.
type ProbeResult struct {
	DurationSeconds float64 `json:"duration_seconds"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	CodecName       string  `json:"codec_name"`
}

// ffprobe JSON output shape (only the fields we read).
type ffprobeOutput struct {
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		SampleRate string `json:"sample_rate"`
		Channels   int    `json:"channels"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe inspects an audio file with ffprobe and returns its duration and
// stream properties.
func Probe(audioPath string) (*ProbeResult, error) {
	if _, err := os.Stat(audioPath); err != nil {
		return nil, fmt.Errorf("audio file not accessible: %w", err)
	}

	cmd := exec.Command("ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_streams",
		"-select_streams", "a:0",
		"-of", "json",
		audioPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed ffprobeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
	if err != nil {
		return nil, fmt.Errorf("ffprobe reported no duration for %s", audioPath)
	}

	result := &ProbeResult{DurationSeconds: duration}
	for _, s := range probed.Streams {
		if s.CodecType != "" && s.CodecType != "audio" {
			continue
		}
		result.CodecName = s.CodecName
		result.Channels = s.Channels
		if sr, err := strconv.Atoi(s.SampleRate); err == nil {
			result.SampleRate = sr
		}
		break
	}

	return result, nil
}

// ContentHash returns the hex sha256 of the audio file bytes. The hash is
// the deterministic part of a cache key: identical audio always hashes the
// same regardless of filename or location.
func ContentHash(audioPath string) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to open audio for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash audio: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes hashes an in-memory byte slice the same way ContentHash hashes
// a file.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
