package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/internal/stages"
	"github.com/worshiptools/lyricsync/pkg/audio"
)

type fakeTranscript struct {
	frags []models.TimestampedFragment
	err   error
	calls int
}

func (f *fakeTranscript) Fetch(ctx context.Context, sourceURL, language string) ([]models.TimestampedFragment, error) {
	f.calls++
	return f.frags, f.err
}

type fakeASR struct {
	frags []models.TimestampedFragment
	err   error
	calls int
}

func (f *fakeASR) Transcribe(ctx context.Context, audioPath, language string) ([]models.TimestampedFragment, error) {
	f.calls++
	return f.frags, f.err
}

type fakeAligner struct {
	frags []models.TimestampedFragment
	err   error
	calls int
}

func (f *fakeAligner) Align(ctx context.Context, req stages.AlignRequest) ([]models.TimestampedFragment, error) {
	f.calls++
	return f.frags, f.err
}

type fakeLLM struct {
	mapped []models.MappedLine
	err    error
	calls  int
}

func (f *fakeLLM) AlignLines(ctx context.Context, lines []models.LyricLine, words []models.TimestampedFragment, language string) ([]models.MappedLine, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.mapped != nil {
		return f.mapped, nil
	}
	out := make([]models.MappedLine, len(lines))
	for i, l := range lines {
		out[i] = models.MappedLine{Line: l, StartSec: float64(i), EndSec: float64(i + 1), Matched: true}
	}
	return out, nil
}

func fixedProbe(durationSec float64) Prober {
	return func(string) (*audio.ProbeResult, error) {
		return &audio.ProbeResult{DurationSeconds: durationSec}, nil
	}
}

func testJob(sourceURL string) *models.Job {
	return &models.Job{
		ID:         "job-1",
		Audio:      models.AudioRef{Path: "/tmp/vocals.wav", SourceURL: sourceURL},
		LyricsText: "One\nTwo",
		Lyrics: []models.LyricLine{
			{Index: 0, Text: "One"},
			{Index: 1, Text: "Two"},
		},
		Options: models.DefaultGenerateOptions(),
		Status:  models.StatusRunning,
	}
}

func outcomeFor(t *testing.T, job *models.Job, stage string) models.StageOutcome {
	t.Helper()
	for _, o := range job.StageLog {
		if o.Stage == stage {
			return o
		}
	}
	t.Fatalf("no stage log entry for %s", stage)
	return models.StageOutcome{}
}

func words() []models.TimestampedFragment {
	return []models.TimestampedFragment{
		{StartSec: 0, EndSec: 1, Text: "one"},
		{StartSec: 1, EndSec: 2, Text: "two"},
	}
}

func TestRunTranscriptShortCircuits(t *testing.T) {
	tr := &fakeTranscript{frags: words()}
	asr := &fakeASR{}
	al := &fakeAligner{}
	llm := &fakeLLM{}
	c := NewController(tr, asr, al, llm, fixedProbe(100), nil, "")

	job := testJob("https://video.example/watch?v=abc")
	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.StageTranscript, doc.ProducedBy)
	assert.Zero(t, asr.calls, "ASR must be skipped when a transcript exists")
	assert.Zero(t, al.calls)
	assert.Zero(t, llm.calls)

	assert.Equal(t, models.OutcomeSuccess, outcomeFor(t, job, models.StageTranscript).Status)
	assert.Equal(t, models.OutcomeSkipped, outcomeFor(t, job, models.StageASR).Status)
	assert.Equal(t, models.OutcomeSkipped, outcomeFor(t, job, models.StageLLM).Status)
}

func TestRunNoSourceURLGoesToASR(t *testing.T) {
	tr := &fakeTranscript{}
	asr := &fakeASR{frags: words()}
	c := NewController(tr, asr, &fakeAligner{err: &stages.StageError{Stage: models.StageAligner, Kind: stages.KindUnreachable, Err: errors.New("down")}}, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("")
	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Zero(t, tr.calls)
	assert.Equal(t, "no_source_url", outcomeFor(t, job, models.StageTranscript).Reason)
	assert.Equal(t, models.StageLLM, doc.ProducedBy, "aligner failed, LLM output used")
}

func TestRunTranscriptNotFoundFallsBack(t *testing.T) {
	tr := &fakeTranscript{err: stages.ErrNotFound}
	asr := &fakeASR{frags: words()}
	c := NewController(tr, asr, &fakeAligner{frags: words()}, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("https://video.example/gone")
	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, "not_found", outcomeFor(t, job, models.StageTranscript).Reason)
	assert.Equal(t, 1, asr.calls)
	assert.Equal(t, models.StageAligner, doc.ProducedBy)
}

func TestRunASRFailureFailsJob(t *testing.T) {
	asrErr := &stages.StageError{Stage: models.StageASR, Kind: stages.KindTimeout, Err: errors.New("deadline")}
	c := NewController(&fakeTranscript{}, &fakeASR{err: asrErr}, &fakeAligner{}, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("")
	_, err := c.Run(context.Background(), job)
	require.Error(t, err)
	assert.ErrorIs(t, err, asrErr)

	outcome := outcomeFor(t, job, models.StageASR)
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, stages.KindTimeout, outcome.ErrorKind)
}

func TestRunAlignerReplacesASRFragments(t *testing.T) {
	fine := []models.TimestampedFragment{
		{StartSec: 0.0, EndSec: 0.5, Text: "o"},
		{StartSec: 0.5, EndSec: 1.0, Text: "ne"},
		{StartSec: 1.0, EndSec: 1.5, Text: "t"},
		{StartSec: 1.5, EndSec: 2.0, Text: "wo"},
	}
	al := &fakeAligner{frags: fine}
	llm := &fakeLLM{}
	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, al, llm, fixedProbe(100), nil, "")

	job := testJob("")
	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, models.StageAligner, doc.ProducedBy)
	assert.Zero(t, llm.calls, "LLM is skipped when the aligner produced the timing")
	assert.Equal(t, "aligner_output_used", outcomeFor(t, job, models.StageLLM).Reason)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, 0.0, doc.Lines[0].StartSec)
	assert.Equal(t, 1.0, doc.Lines[0].EndSec)
}

func TestRunDurationGuardSkipsAligner(t *testing.T) {
	al := &fakeAligner{frags: words()}
	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, al, &fakeLLM{}, fixedProbe(360), nil, "")

	job := testJob("")
	job.Options.MaxAlignerDurationSec = 300

	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	assert.Zero(t, al.calls, "guard must short-circuit before the aligner call")
	outcome := outcomeFor(t, job, models.StageAligner)
	assert.Equal(t, models.OutcomeSkipped, outcome.Status)
	assert.Contains(t, outcome.Reason, SkipReasonDuration)
	assert.Equal(t, models.StageLLM, doc.ProducedBy, "job completes from the ASR+LLM branch")
}

func TestRunAlignerDisabledByOptions(t *testing.T) {
	al := &fakeAligner{frags: words()}
	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, al, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("")
	job.Options.UseForcedAligner = false

	_, err := c.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Zero(t, al.calls)
	assert.Equal(t, "disabled_by_options", outcomeFor(t, job, models.StageAligner).Reason)
}

func TestRunAlignerTooLongResponseBecomesSkip(t *testing.T) {
	tooLong := &stages.StageError{Stage: models.StageAligner, Kind: stages.KindUnsupported, Err: errors.New("too long")}
	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, &fakeAligner{err: tooLong}, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("")
	job.Options.MaxAlignerDurationSec = 0 // no client-side ceiling; server rejects instead

	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, outcomeFor(t, job, models.StageAligner).Status)
	assert.NotNil(t, doc)
}

func TestRunLLMFailureFallsBackToRawASR(t *testing.T) {
	llmErr := &stages.StageError{Stage: models.StageLLM, Kind: stages.KindInvalidResponse, Err: errors.New("garbage")}
	alErr := &stages.StageError{Stage: models.StageAligner, Kind: stages.KindUnreachable, Err: errors.New("down")}
	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, &fakeAligner{err: alErr}, &fakeLLM{err: llmErr}, fixedProbe(100), nil, "")

	job := testJob("")
	doc, err := c.Run(context.Background(), job)
	require.NoError(t, err, "LLM failure must not fail the job")

	assert.Equal(t, models.StageASR, doc.ProducedBy)
	assert.Equal(t, models.OutcomeFailed, outcomeFor(t, job, models.StageLLM).Status)
	require.Len(t, doc.Lines, 2)
	assert.True(t, doc.Lines[0].Matched)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewController(&fakeTranscript{}, &fakeASR{frags: words()}, &fakeAligner{}, &fakeLLM{}, fixedProbe(100), nil, "")
	job := testJob("")
	_, err := c.Run(ctx, job)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunStageLogOrdered(t *testing.T) {
	c := NewController(&fakeTranscript{err: stages.ErrNotFound}, &fakeASR{frags: words()}, &fakeAligner{frags: words()}, &fakeLLM{}, fixedProbe(100), nil, "")

	job := testJob("https://video.example/x")
	_, err := c.Run(context.Background(), job)
	require.NoError(t, err)

	var order []string
	for _, o := range job.StageLog {
		order = append(order, o.Stage)
	}
	assert.Equal(t, []string{models.StageTranscript, models.StageASR, models.StageAligner, models.StageLLM}, order)
}
