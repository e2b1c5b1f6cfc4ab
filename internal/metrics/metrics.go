package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ModerationRequests counts gateway verdicts by outcome:
	// "safe", "flagged", "fail_open".
	ModerationRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_requests_total",
			Help: "Total number of texts classified by the moderation gateway",
		},
		[]string{"outcome"},
	)

	ModerationLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "moderation_classifier_duration_seconds",
			Help:    "Duration of external classifier calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LocalRuleHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_local_rule_hits_total",
			Help: "Categories added by local keyword rules",
		},
		[]string{"category"},
	)

	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "violations_recorded_total",
			Help: "Total number of violation records written to the ledger",
		},
		[]string{"type", "severity"},
	)

	SanctionActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sanction_actions_total",
			Help: "State machine outcomes by action",
		},
		[]string{"action"},
	)

	SanctionConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sanction_cas_conflicts_total",
			Help: "Compare-and-set conflicts while persisting sanction state",
		},
	)

	PermissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_permission_decisions_total",
			Help: "Chat permission gate decisions by reason",
		},
		[]string{"allowed", "reason"},
	)

	NotificationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_notification_failures_total",
			Help: "Admin notification deliveries that failed and were dropped",
		},
		[]string{"notifier"},
	)
)
