package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Blacklist service metrics
var (
	BlacklistRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_blacklist_requests_total",
			Help: "Total number of blacklist protocol requests",
		},
		[]string{"method", "result"},
	)

	BlacklistRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postbox_blacklist_request_duration_seconds",
			Help:    "Duration of blacklist protocol round trips in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0},
		},
		[]string{"method"},
	)

	BlacklistFramingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_blacklist_framing_total",
			Help: "How blacklist responses were delimited",
		},
		[]string{"how"}, // status, blank_line, idle, eof
	)
)

// Spam scanning metrics
var (
	SpamScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_spam_scans_total",
			Help: "Total number of spam scans by outcome",
		},
		[]string{"result"}, // clean, match, degraded, error
	)

	FailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_blacklist_fail_open_total",
			Help: "Blacklist failures that were ignored under the fail-open policy",
		},
		[]string{"operation"},
	)
)

// Label propagation metrics
var (
	LabelChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_label_changes_total",
			Help: "Label attach/detach operations applied to mails",
		},
		[]string{"source", "action"}, // source: user, propagation, lifecycle
	)

	MailOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postbox_mail_operations_total",
			Help: "Mail lifecycle operations",
		},
		[]string{"operation"},
	)
)
