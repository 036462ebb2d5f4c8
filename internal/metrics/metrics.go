package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/worshiptools/lyricsync/internal/models"
)

var (
	// JobsTotal counts terminal job outcomes.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lyricsync_jobs_total",
		Help: "Terminal job outcomes by status.",
	}, []string{"status"})

	// CacheHits counts submissions answered from the result cache.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lyricsync_cache_hits_total",
		Help: "Submissions completed synchronously from the result cache.",
	})

	// StageOutcomes counts stage attempts by stage and outcome.
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lyricsync_stage_outcomes_total",
		Help: "Pipeline stage attempts by stage and outcome.",
	}, []string{"stage", "outcome"})

	// MatchedRatio observes the share of lyric lines whose timing was found
	// directly in the fragment stream. Interpolated lines pull this down;
	// it is the quality signal for silent accuracy degradation.
	MatchedRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lyricsync_matched_line_ratio",
		Help:    "Share of lines matched directly per completed document.",
		Buckets: []float64{0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
	})
)

// RecordJob records a terminal job: its status, every stage outcome, and
// the match quality of the result when one exists.
func RecordJob(job *models.Job) {
	JobsTotal.WithLabelValues(job.Status).Inc()
	for _, outcome := range job.StageLog {
		StageOutcomes.WithLabelValues(outcome.Stage, outcome.Status).Inc()
	}
	if job.Result != nil {
		MatchedRatio.Observe(job.Result.MatchedRatio())
	}
}
