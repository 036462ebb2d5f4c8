package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
)

// TranscriptClient fetches published captions for a source video. Captioned
// transcripts already carry usable timing, so a hit here short-circuits the
// whole ASR/aligner chain.
type TranscriptClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewTranscriptClient creates a transcript fetch adapter.
func NewTranscriptClient(baseURL, authToken string, timeout time.Duration) *TranscriptClient {
	return &TranscriptClient{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

type transcriptResponse struct {
	Cues []struct {
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
		Text     string  `json:"text"`
	} `json:"cues"`
}

// Fetch retrieves caption cues for the given source URL. Returns ErrNotFound
// when no transcript is published for the video; any other failure comes
// back as a *StageError.
func (c *TranscriptClient) Fetch(ctx context.Context, sourceURL, language string) ([]models.TimestampedFragment, error) {
	endpoint := fmt.Sprintf("%s/api/v1/transcripts?url=%s&lang=%s",
		c.baseURL, url.QueryEscape(sourceURL), url.QueryEscape(language))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, classify(models.StageTranscript, err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(models.StageTranscript, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, invalidResponse(models.StageTranscript,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed transcriptResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, invalidResponse(models.StageTranscript, fmt.Errorf("failed to decode transcript: %w", err))
	}
	if len(parsed.Cues) == 0 {
		return nil, invalidResponse(models.StageTranscript, fmt.Errorf("transcript contains no cues"))
	}

	frags := make([]models.TimestampedFragment, 0, len(parsed.Cues))
	for _, cue := range parsed.Cues {
		if cue.EndSec < cue.StartSec {
			return nil, invalidResponse(models.StageTranscript,
				fmt.Errorf("cue end %.2f before start %.2f", cue.EndSec, cue.StartSec))
		}
		frags = append(frags, models.TimestampedFragment{
			StartSec: cue.StartSec,
			EndSec:   cue.EndSec,
			Text:     cue.Text,
		})
	}
	return frags, nil
}
