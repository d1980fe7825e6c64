// Package metrics exposes Prometheus instruments for the assessment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chapterquiz_sessions_started_total",
			Help: "Total number of assessment sessions opened",
		},
	)

	CooldownDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chapterquiz_cooldown_denials_total",
			Help: "Total number of session starts refused by the cooldown gate",
		},
	)

	AnswersRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chapterquiz_answers_recorded_total",
			Help: "Total number of answers recorded",
		},
		[]string{"kind"}, // new, update
	)

	InvalidScoreInputs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chapterquiz_invalid_score_inputs_total",
			Help: "Total number of scores clamped or defaulted on input",
		},
	)

	QuestionsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chapterquiz_questions_served_total",
			Help: "Total number of questions served by difficulty",
		},
		[]string{"difficulty"},
	)

	SessionsClosed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chapterquiz_sessions_closed_total",
			Help: "Total number of sessions closed by cooldown length",
		},
		[]string{"cooldown"},
	)

	VersionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chapterquiz_record_version_conflicts_total",
			Help: "Total number of record writes retried after a version conflict",
		},
	)

	RankingRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chapterquiz_ranking_runs_total",
			Help: "Total number of ranking runs",
		},
		[]string{"status"},
	)

	RankingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chapterquiz_ranking_duration_seconds",
			Help:    "Time spent recomputing the ranking",
			Buckets: prometheus.DefBuckets,
		},
	)

	RankingUsersSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chapterquiz_ranking_users_skipped_total",
			Help: "Total number of users left out of a ranking run after a failure",
		},
	)

	RankedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chapterquiz_ranked_users_current",
			Help: "Number of users in the latest ranking",
		},
	)
)
