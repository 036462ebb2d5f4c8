package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
)

// LLMClient wraps the large-language-model line aligner: given the canonical
// lyric lines and the raw ASR word spans, it assigns one timestamp pair per
// line. Its output is validated strictly; anything that doesn't cover every
// line exactly once is rejected as an invalid response.
type LLMClient struct {
	baseURL    string
	authToken  string
	model      string
	maxRetries int
	client     *http.Client
}

// NewLLMClient creates an LLM line-aligner adapter. Transport failures are
// retried up to maxRetries times with a short fixed backoff.
func NewLLMClient(baseURL, authToken, model string, timeout time.Duration, maxRetries int) *LLMClient {
	return &LLMClient{
		baseURL:    baseURL,
		authToken:  authToken,
		model:      model,
		maxRetries: maxRetries,
		client:     &http.Client{Timeout: timeout},
	}
}

type llmAlignRequest struct {
	Model    string                       `json:"model,omitempty"`
	Language string                       `json:"language,omitempty"`
	Lines    []models.LyricLine           `json:"lines"`
	Words    []models.TimestampedFragment `json:"words"`
}

type llmAlignResponse struct {
	Lines []struct {
		Index    int     `json:"index"`
		StartSec float64 `json:"start_sec"`
		EndSec   float64 `json:"end_sec"`
		Matched  *bool   `json:"matched,omitempty"`
	} `json:"lines"`
}

// AlignLines asks the LLM aligner for one timestamp pair per lyric line.
// The returned slice is exactly len(lines) long, in line order, with the
// canonical text carried through unchanged.
func (c *LLMClient) AlignLines(ctx context.Context, lines []models.LyricLine, words []models.TimestampedFragment, language string) ([]models.MappedLine, error) {
	payload, err := json.Marshal(llmAlignRequest{
		Model:    c.model,
		Language: language,
		Lines:    lines,
		Words:    words,
	})
	if err != nil {
		return nil, classify(models.StageLLM, err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, classify(models.StageLLM, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		mapped, err := c.alignOnce(ctx, payload, lines)
		if err == nil {
			return mapped, nil
		}
		lastErr = err

		// Only transport-level failures are worth retrying; a malformed
		// response will be malformed again.
		var stageErr *StageError
		if errors.As(err, &stageErr) && stageErr.Kind == KindInvalidResponse {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *LLMClient) alignOnce(ctx context.Context, payload []byte, lines []models.LyricLine) ([]models.MappedLine, error) {
	endpoint := c.baseURL + "/api/v1/align-lines"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, classify(models.StageLLM, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(models.StageLLM, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		// Server-side failures are transient; the retry loop handles them.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StageError{Stage: models.StageLLM, Kind: KindUnreachable,
			Err: fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, invalidResponse(models.StageLLM,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body)))
	}

	var parsed llmAlignResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, invalidResponse(models.StageLLM, fmt.Errorf("failed to decode alignment: %w", err))
	}

	return validateLLMLines(parsed, lines)
}

// validateLLMLines enforces the output contract: one entry per input line,
// same order, non-decreasing start times. Loosely structured LLM output is
// never trusted past this point.
func validateLLMLines(parsed llmAlignResponse, lines []models.LyricLine) ([]models.MappedLine, error) {
	if len(parsed.Lines) != len(lines) {
		return nil, invalidResponse(models.StageLLM,
			fmt.Errorf("aligner returned %d lines, want %d", len(parsed.Lines), len(lines)))
	}

	mapped := make([]models.MappedLine, len(lines))
	prevStart := 0.0
	for i, got := range parsed.Lines {
		if got.Index != lines[i].Index {
			return nil, invalidResponse(models.StageLLM,
				fmt.Errorf("line %d has index %d, want %d", i, got.Index, lines[i].Index))
		}
		if got.EndSec < got.StartSec {
			return nil, invalidResponse(models.StageLLM,
				fmt.Errorf("line %d end %.2f before start %.2f", i, got.EndSec, got.StartSec))
		}
		if got.StartSec < prevStart {
			return nil, invalidResponse(models.StageLLM,
				fmt.Errorf("line %d start %.2f goes backwards", i, got.StartSec))
		}
		prevStart = got.StartSec

		matched := true
		if got.Matched != nil {
			matched = *got.Matched
		}
		mapped[i] = models.MappedLine{
			Line:     lines[i],
			StartSec: got.StartSec,
			EndSec:   got.EndSec,
			Matched:  matched,
		}
	}
	return mapped, nil
}
