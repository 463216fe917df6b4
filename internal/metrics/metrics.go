package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Sync job metrics
var (
	SyncJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_jobs_total",
			Help: "Total number of finished sync jobs",
		},
		[]string{"trigger", "outcome"},
	)

	SyncJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailsync_job_duration_seconds",
			Help:    "Duration of sync jobs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"trigger"},
	)

	SubmissionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_submissions_rejected_total",
			Help: "Total number of rejected sync submissions",
		},
		[]string{"reason"},
	)

	AccountsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mailsync_accounts_in_flight",
			Help: "Number of accounts with an active sync job",
		},
	)
)

// Message metrics
var (
	MessagesSeen = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_messages_seen_total",
			Help: "Total number of messages fetched and parsed",
		},
	)

	MessagesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_messages_saved_total",
			Help: "Total number of messages stored",
		},
	)

	MessagesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_messages_skipped_total",
			Help: "Total number of messages skipped during sync",
		},
		[]string{"reason"},
	)
)

// Real-time poller metrics
var (
	PollerCycles = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_poller_cycles_total",
			Help: "Total number of real-time poller cycles",
		},
	)

	PollerSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailsync_poller_submissions_total",
			Help: "Real-time poller decisions per account",
		},
		[]string{"result"},
	)
)

// Event dispatch metrics
var (
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailsync_events_dropped_total",
			Help: "Progress events dropped because the dispatcher buffer was full",
		},
	)
)
