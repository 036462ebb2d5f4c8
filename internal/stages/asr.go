package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
)

// ASRClient wraps the speech-to-phrase transcriber. It is the mandatory
// timing source: when no captioned transcript exists, everything downstream
// works from its word spans.
type ASRClient struct {
	baseURL   string
	authToken string
	model     string
	client    *http.Client
}

// NewASRClient creates an ASR adapter. The timeout should be generous: the
// transcriber is compute-bound and runs at a fraction of realtime.
func NewASRClient(baseURL, authToken, model string, timeout time.Duration) *ASRClient {
	return &ASRClient{
		baseURL:   baseURL,
		authToken: authToken,
		model:     model,
		client:    &http.Client{Timeout: timeout},
	}
}

type asrResponse struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Words []struct {
			Word  string  `json:"word"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
		} `json:"words"`
	} `json:"segments"`
	Language string `json:"language,omitempty"`
}

// Transcribe uploads the audio and returns the transcriber's word spans as
// fragments, in non-decreasing start order. Word-level timing is used when
// the service provides it, otherwise whole segments are returned.
func (c *ASRClient) Transcribe(ctx context.Context, audioPath, language string) ([]models.TimestampedFragment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, &StageError{Stage: models.StageASR, Kind: KindUnreachable,
			Err: fmt.Errorf("failed to open audio: %w", err)}
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, classify(models.StageASR, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, classify(models.StageASR, err)
	}
	writer.WriteField("model", c.model)
	writer.WriteField("language", language)
	writer.WriteField("word_timestamps", "true")
	if err := writer.Close(); err != nil {
		return nil, classify(models.StageASR, err)
	}

	endpoint := c.baseURL + "/api/v1/transcribe"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, classify(models.StageASR, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(models.StageASR, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, invalidResponse(models.StageASR,
			fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed asrResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, invalidResponse(models.StageASR, fmt.Errorf("failed to decode transcription: %w", err))
	}

	var frags []models.TimestampedFragment
	for _, seg := range parsed.Segments {
		if len(seg.Words) == 0 {
			frags = append(frags, models.TimestampedFragment{
				StartSec: seg.Start, EndSec: seg.End, Text: seg.Text,
			})
			continue
		}
		for _, w := range seg.Words {
			frags = append(frags, models.TimestampedFragment{
				StartSec: w.Start, EndSec: w.End, Text: w.Word,
			})
		}
	}
	if len(frags) == 0 {
		return nil, invalidResponse(models.StageASR, fmt.Errorf("transcription contains no segments"))
	}
	return frags, nil
}
