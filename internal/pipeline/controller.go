package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/worshiptools/lyricsync/internal/models"
	"github.com/worshiptools/lyricsync/internal/services"
	"github.com/worshiptools/lyricsync/internal/stages"
	"github.com/worshiptools/lyricsync/pkg/audio"
	"github.com/worshiptools/lyricsync/pkg/logger"
	"github.com/worshiptools/lyricsync/pkg/lyrics"
)

// TranscriptFetcher retrieves published caption cues for a source video.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, sourceURL, language string) ([]models.TimestampedFragment, error)
}

// Transcriber produces word spans from audio without a reference text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) ([]models.TimestampedFragment, error)
}

// Aligner produces character-level spans for known lyrics against audio.
type Aligner interface {
	Align(ctx context.Context, req stages.AlignRequest) ([]models.TimestampedFragment, error)
}

// LineAligner assigns one timestamp pair per lyric line from raw word spans.
type LineAligner interface {
	AlignLines(ctx context.Context, lines []models.LyricLine, words []models.TimestampedFragment, language string) ([]models.MappedLine, error)
}

// Prober reports audio duration ahead of any stage call.
type Prober func(audioPath string) (*audio.ProbeResult, error)

// Controller drives the hierarchical timing-source fallback for one job:
// captioned transcript first, then mandatory ASR, then optional forced-
// aligner refinement, then LLM line alignment. Only the ASR stage can fail
// the job; every other stage degrades to the next branch.
type Controller struct {
	transcript  TranscriptFetcher
	asr         Transcriber
	aligner     Aligner
	llm         LineAligner
	probe       Prober
	broadcaster *services.ProgressBroadcaster
	storagePath string
}

// NewController creates a pipeline controller. broadcaster may be nil;
// storagePath may be empty to disable per-job log files.
func NewController(
	transcript TranscriptFetcher,
	asr Transcriber,
	aligner Aligner,
	llm LineAligner,
	probe Prober,
	broadcaster *services.ProgressBroadcaster,
	storagePath string,
) *Controller {
	if probe == nil {
		probe = audio.Probe
	}
	return &Controller{
		transcript:  transcript,
		asr:         asr,
		aligner:     aligner,
		llm:         llm,
		probe:       probe,
		broadcaster: broadcaster,
		storagePath: storagePath,
	}
}

// Run executes the fallback chain for a job, appending one StageOutcome per
// attempted stage to job.StageLog. It returns the finished document or an
// error when no timing source could be obtained. The job handle must not be
// retained after Run returns.
func (c *Controller) Run(ctx context.Context, job *models.Job) (*models.LRCDocument, error) {
	jl := c.openJobLog(job)

	probed, err := c.probe(job.Audio.Path)
	if err != nil {
		c.closeJobLog(jl, false, err.Error())
		return nil, fmt.Errorf("audio probe failed: %w", err)
	}
	duration := probed.DurationSeconds
	if jl != nil {
		jl.Property("Audio", job.Audio.Path)
		jl.Property("Duration", fmt.Sprintf("%.1fs", duration))
		jl.Property("Lines", len(job.Lyrics))
	}

	// State 1: captioned transcript. A hit carries its own acceptable
	// timing and ends the chain immediately.
	if frags, ok := c.tryTranscript(ctx, job, jl); ok {
		doc := c.buildDocument(job, frags, models.StageTranscript, duration)
		c.skipStage(job, jl, models.StageASR, "transcript_available")
		c.skipStage(job, jl, models.StageAligner, "transcript_available")
		c.skipStage(job, jl, models.StageLLM, "transcript_available")
		c.closeJobLog(jl, true, "timing from captioned transcript")
		return doc, nil
	}
	if err := ctx.Err(); err != nil {
		c.closeJobLog(jl, false, "cancelled")
		return nil, err
	}

	// State 2: ASR. Mandatory: with no transcript there is no other
	// timing source, so a failure here fails the job.
	words, err := c.runASR(ctx, job, jl)
	if err != nil {
		c.closeJobLog(jl, false, err.Error())
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		c.closeJobLog(jl, false, "cancelled")
		return nil, err
	}

	// State 3: forced-aligner refinement. Optional; on success its
	// finer-grained spans replace the ASR words as the mapper input.
	if frags, ok := c.tryAligner(ctx, job, jl, duration); ok {
		doc := c.buildDocument(job, frags, models.StageAligner, duration)
		c.skipStage(job, jl, models.StageLLM, "aligner_output_used")
		c.closeJobLog(jl, true, "timing from forced aligner")
		return doc, nil
	}
	if err := ctx.Err(); err != nil {
		c.closeJobLog(jl, false, "cancelled")
		return nil, err
	}

	// State 4: LLM line alignment over the raw ASR words. On failure the
	// mapper still produces a document from the words alone.
	if mapped, ok := c.tryLLM(ctx, job, jl, words); ok {
		doc := &models.LRCDocument{Lines: mapped, ProducedBy: models.StageLLM, DurationSec: duration}
		c.closeJobLog(jl, true, "timing from LLM line alignment")
		return doc, nil
	}

	doc := c.buildDocument(job, words, models.StageASR, duration)
	c.closeJobLog(jl, true, "timing from raw ASR words")
	return doc, nil
}

// tryTranscript attempts the caption transcript stage. The bool result is
// true only when usable cues came back.
func (c *Controller) tryTranscript(ctx context.Context, job *models.Job, jl *logger.JobLogger) ([]models.TimestampedFragment, bool) {
	if job.Audio.SourceURL == "" {
		c.skipStage(job, jl, models.StageTranscript, "no_source_url")
		return nil, false
	}

	c.announce(job, jl, models.StageTranscript, "Fetching published transcript")
	started := time.Now()
	frags, err := c.transcript.Fetch(ctx, job.Audio.SourceURL, job.Options.Language)
	if err != nil {
		if errors.Is(err, stages.ErrNotFound) {
			c.skipStage(job, jl, models.StageTranscript, "not_found")
		} else {
			c.failStage(job, jl, models.StageTranscript, err)
		}
		return nil, false
	}

	c.succeedStage(job, jl, models.StageTranscript, len(frags), started)
	return frags, true
}

// runASR runs the mandatory ASR stage. Its error is the job's error.
func (c *Controller) runASR(ctx context.Context, job *models.Job, jl *logger.JobLogger) ([]models.TimestampedFragment, error) {
	c.announce(job, jl, models.StageASR, "Transcribing audio")
	started := time.Now()
	words, err := c.asr.Transcribe(ctx, job.Audio.Path, job.Options.Language)
	if err != nil {
		c.failStage(job, jl, models.StageASR, err)
		return nil, fmt.Errorf("mandatory ASR stage failed: %w", err)
	}
	c.succeedStage(job, jl, models.StageASR, len(words), started)
	return words, nil
}

// tryAligner attempts forced alignment behind the duration guard. Both the
// guard skip and any stage failure leave the pipeline on the ASR branch.
func (c *Controller) tryAligner(ctx context.Context, job *models.Job, jl *logger.JobLogger, durationSec float64) ([]models.TimestampedFragment, bool) {
	if !job.Options.UseForcedAligner {
		c.skipStage(job, jl, models.StageAligner, "disabled_by_options")
		return nil, false
	}

	if decision := CheckDuration(durationSec, job.Options.MaxAlignerDurationSec); !decision.Proceed {
		c.skipStage(job, jl, models.StageAligner, decision.Reason)
		return nil, false
	}

	c.announce(job, jl, models.StageAligner, "Running forced alignment")
	started := time.Now()
	frags, err := c.aligner.Align(ctx, stages.AlignRequest{
		AudioURL:     job.Audio.Path,
		LyricsText:   job.LyricsText,
		Language:     job.Options.Language,
		OutputFormat: "segments",
	})
	if err != nil {
		// The server's own "too long" rejection lands here when the guard
		// was bypassed by a stale probe; same routing as the guard skip.
		var stageErr *stages.StageError
		if errors.As(err, &stageErr) && stageErr.Kind == stages.KindUnsupported {
			c.skipStage(job, jl, models.StageAligner, SkipReasonDuration)
		} else {
			c.failStage(job, jl, models.StageAligner, err)
		}
		return nil, false
	}

	c.succeedStage(job, jl, models.StageAligner, len(frags), started)
	return frags, true
}

// tryLLM attempts LLM line alignment over raw ASR words.
func (c *Controller) tryLLM(ctx context.Context, job *models.Job, jl *logger.JobLogger, words []models.TimestampedFragment) ([]models.MappedLine, bool) {
	c.announce(job, jl, models.StageLLM, "Aligning lines with LLM")
	started := time.Now()
	mapped, err := c.llm.AlignLines(ctx, job.Lyrics, words, job.Options.Language)
	if err != nil {
		c.failStage(job, jl, models.StageLLM, err)
		return nil, false
	}
	c.succeedStage(job, jl, models.StageLLM, len(mapped), started)
	return mapped, true
}

// buildDocument maps a fragment stream onto the job's lyric lines.
func (c *Controller) buildDocument(job *models.Job, frags []models.TimestampedFragment, producedBy string, durationSec float64) *models.LRCDocument {
	mapped := lyrics.MapLines(job.Lyrics, frags, durationSec)
	doc := &models.LRCDocument{
		Lines:       mapped,
		ProducedBy:  producedBy,
		DurationSec: durationSec,
	}
	if ratio := doc.MatchedRatio(); ratio < 1.0 {
		log.Printf("Job %s: %.0f%% of lines matched directly (source %s)", job.ID, ratio*100, producedBy)
	}
	return doc
}

func (c *Controller) announce(job *models.Job, jl *logger.JobLogger, stage, message string) {
	if jl != nil {
		jl.Stage(stage, message)
	}
	if c.broadcaster != nil {
		c.broadcaster.BroadcastJob(job, stage, message)
	}
}

func (c *Controller) succeedStage(job *models.Job, jl *logger.JobLogger, stage string, fragments int, started time.Time) {
	job.StageLog = append(job.StageLog, models.StageOutcome{
		Stage:         stage,
		Status:        models.OutcomeSuccess,
		FragmentCount: fragments,
		ElapsedMs:     time.Since(started).Milliseconds(),
		At:            time.Now(),
	})
	if jl != nil {
		jl.Success("%s produced %d fragments", stage, fragments)
	}
	if c.broadcaster != nil {
		c.broadcaster.BroadcastJob(job, stage, fmt.Sprintf("%s succeeded", stage))
	}
}

func (c *Controller) skipStage(job *models.Job, jl *logger.JobLogger, stage, reason string) {
	job.StageLog = append(job.StageLog, models.StageOutcome{
		Stage:  stage,
		Status: models.OutcomeSkipped,
		Reason: reason,
		At:     time.Now(),
	})
	if jl != nil {
		jl.Info("%s skipped: %s", stage, reason)
	}
}

func (c *Controller) failStage(job *models.Job, jl *logger.JobLogger, stage string, err error) {
	outcome := models.StageOutcome{
		Stage:        stage,
		Status:       models.OutcomeFailed,
		ErrorMessage: err.Error(),
		At:           time.Now(),
	}
	var stageErr *stages.StageError
	if errors.As(err, &stageErr) {
		outcome.ErrorKind = stageErr.Kind
	}
	job.StageLog = append(job.StageLog, outcome)

	log.Printf("Warning: job %s stage %s failed: %v", job.ID, stage, err)
	if jl != nil {
		jl.Warn("%s failed: %v", stage, err)
	}
}

func (c *Controller) openJobLog(job *models.Job) *logger.JobLogger {
	if c.storagePath == "" {
		return nil
	}
	jl, err := logger.NewJobLogger(c.storagePath, job.ID)
	if err != nil {
		log.Printf("Warning: failed to create job log for %s: %v", job.ID, err)
		return nil
	}
	return jl
}

func (c *Controller) closeJobLog(jl *logger.JobLogger, success bool, message string) {
	if jl == nil {
		return
	}
	if err := jl.Close(success, message); err != nil {
		log.Printf("Warning: failed to close job log: %v", err)
	}
}
