package models

import "time"

// LyricLine is one physical line of the canonical lyrics, in original order.
// Index is the zero-based position within the submitted lyrics text.
type LyricLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// IsEmpty reports whether the line carries no singable text (blank separator
// or a section header such as [Chorus] that was blanked by the parser).
func (l LyricLine) IsEmpty() bool {
	return l.Text == ""
}

// TimestampedFragment is one unit of output from any timing source: an ASR
// word, an aligner character span, or a caption cue.
type TimestampedFragment struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
	Text     string  `json:"text"`
}

// MappedLine is a lyric line with resolved timing. Matched is false when the
// timestamp was interpolated rather than found in the fragment stream; it is
// kept for quality telemetry and never changes the rendered output.
type MappedLine struct {
	Line     LyricLine `json:"line"`
	StartSec float64   `json:"start_sec"`
	EndSec   float64   `json:"end_sec"`
	Matched  bool      `json:"matched"`
}

// Pipeline stage names, in fallback order.
const (
	StageTranscript = "transcript"
	StageASR        = "asr"
	StageAligner    = "aligner"
	StageLLM        = "llm"
)

// Stage outcome status values.
const (
	OutcomeSuccess = "success"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// StageOutcome records one attempt at a timing source. The ordered list of
// outcomes on a job is the audit trail for why a given source was used.
type StageOutcome struct {
	Stage         string    `json:"stage"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`     // set when skipped
	ErrorKind     string    `json:"error_kind,omitempty"` // set when failed
	ErrorMessage  string    `json:"error_message,omitempty"`
	FragmentCount int       `json:"fragment_count,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms,omitempty"`
	At            time.Time `json:"at"`
}

// LRCDocument is the finished line-level timing result for one job.
type LRCDocument struct {
	Lines       []MappedLine `json:"lines"`
	ProducedBy  string       `json:"produced_by"` // stage name of the timing source used
	DurationSec float64      `json:"duration_sec"`
}

// MatchedRatio returns the share of non-empty lines whose timing was found in
// the fragment stream rather than interpolated.
func (d *LRCDocument) MatchedRatio() float64 {
	total := 0
	matched := 0
	for _, ml := range d.Lines {
		if ml.Line.IsEmpty() {
			continue
		}
		total++
		if ml.Matched {
			matched++
		}
	}
	if total == 0 {
		return 1.0
	}
	return float64(matched) / float64(total)
}

// GenerateOptions controls a single generation request.
type GenerateOptions struct {
	UseForcedAligner      bool    `json:"use_forced_aligner"`
	MaxAlignerDurationSec float64 `json:"max_aligner_duration_sec"`
	Language              string  `json:"language"`
	ForceRecompute        bool    `json:"force_recompute"`
}

// DefaultGenerateOptions returns the option defaults applied at submission.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		UseForcedAligner:      true,
		MaxAlignerDurationSec: 300,
	}
}

// AudioRef locates the audio for a job. Path is a local file under the
// storage root; SourceURL, when set, identifies the published video the
// audio came from and enables the caption transcript stage.
type AudioRef struct {
	Path      string `json:"path"`
	SourceURL string `json:"source_url,omitempty"`
}

// Job status constants.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Job is one asynchronous LRC generation request. A job is owned by the
// queue for its lifetime; once a terminal status is set it is never mutated.
type Job struct {
	ID         string          `json:"id" db:"id"`
	Audio      AudioRef        `json:"audio" db:"audio"`
	LyricsText string          `json:"lyrics_text" db:"lyrics_text"`
	Lyrics     []LyricLine     `json:"lyrics" db:"lyrics"`
	Options    GenerateOptions `json:"options" db:"options"`

	Status       string         `json:"status" db:"status"`
	StageLog     []StageOutcome `json:"stage_log" db:"stage_log"`
	Result       *LRCDocument   `json:"result,omitempty" db:"result"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
	CacheKey     string         `json:"cache_key" db:"cache_key"`

	QueuedAt    time.Time  `json:"queued_at" db:"queued_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed || j.Status == StatusCancelled
}
