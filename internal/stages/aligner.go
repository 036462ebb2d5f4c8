package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/pkg/lyrics"
)

// AlignerClient wraps the forced-alignment model service. It produces
// character-level spans for known lyrics against audio, but only up to a
// duration ceiling; DurationGuard is expected to run before this client is
// ever invoked.
type AlignerClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewAlignerClient creates a forced-aligner adapter.
func NewAlignerClient(baseURL, authToken string, timeout time.Duration) *AlignerClient {
	return &AlignerClient{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// AlignRequest is the aligner service request body.
type AlignRequest struct {
	AudioURL     string `json:"audio_url"`
	LyricsText   string `json:"lyrics_text"`
	Language     string `json:"language,omitempty"`
	OutputFormat string `json:"output_format"` // "segments" or "lrc"
}

type alignResponse struct {
	Segments []struct {
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
		Text     string  `json:"text"`
	} `json:"segments"`
	LRCText string `json:"lrc_text,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Align submits audio plus lyrics and returns character-level spans. Audio
// over the service's ceiling comes back as an unsupported StageError (the
// server's explicit "too long" rejection), which the pipeline absorbs as a
// skip rather than a failure.
func (c *AlignerClient) Align(ctx context.Context, alignReq AlignRequest) ([]models.TimestampedFragment, error) {
	payload, err := json.Marshal(alignReq)
	if err != nil {
		return nil, classify(models.StageAligner, err)
	}

	endpoint := c.baseURL + "/api/v1/align"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, classify(models.StageAligner, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(models.StageAligner, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, classify(models.StageAligner, err)
	}

	if resp.StatusCode == http.StatusRequestEntityTooLarge || resp.StatusCode == http.StatusUnprocessableEntity {
		var parsed alignResponse
		_ = json.Unmarshal(body, &parsed)
		if parsed.Code == "duration_exceeded" || resp.StatusCode == http.StatusRequestEntityTooLarge {
			return nil, unsupported(models.StageAligner,
				fmt.Errorf("audio exceeds aligner duration ceiling: %s", parsed.Message))
		}
		return nil, invalidResponse(models.StageAligner,
			fmt.Errorf("aligner rejected request: %s", string(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, invalidResponse(models.StageAligner,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed alignResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, invalidResponse(models.StageAligner, fmt.Errorf("failed to decode alignment: %w", err))
	}

	if len(parsed.Segments) > 0 {
		frags := make([]models.TimestampedFragment, 0, len(parsed.Segments))
		for _, seg := range parsed.Segments {
			if seg.EndSec < seg.StartSec {
				return nil, invalidResponse(models.StageAligner,
					fmt.Errorf("segment end %.2f before start %.2f", seg.EndSec, seg.StartSec))
			}
			frags = append(frags, models.TimestampedFragment{
				StartSec: seg.StartSec, EndSec: seg.EndSec, Text: seg.Text,
			})
		}
		return frags, nil
	}

	if parsed.LRCText != "" {
		frags, err := lyrics.ParseLRC(parsed.LRCText)
		if err != nil {
			return nil, invalidResponse(models.StageAligner, fmt.Errorf("failed to parse LRC output: %w", err))
		}
		return frags, nil
	}

	return nil, invalidResponse(models.StageAligner, fmt.Errorf("alignment contains neither segments nor LRC text"))
}
