// Package metrics exposes Prometheus counters for the butler backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequests counts chat turns by mode (batch, stream, events).
	ChatRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_chat_requests_total",
		Help: "Chat requests processed, by output mode.",
	}, []string{"mode"})

	// ToolExecutions counts tool runs by tool name and outcome.
	ToolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_tool_executions_total",
		Help: "Tool executions, by tool and outcome.",
	}, []string{"tool", "outcome"})

	// RateLimitDenials counts rejected requests by limit category.
	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_rate_limit_denials_total",
		Help: "Requests rejected by the rate limiter, by category.",
	}, []string{"category"})

	// SchedulerRuns counts scheduled task executions by action type
	// and outcome.
	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_scheduler_runs_total",
		Help: "Scheduled task executions, by action type and outcome.",
	}, []string{"action", "outcome"})

	// NotificationsSent counts notification deliveries by channel.
	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "butler_notifications_sent_total",
		Help: "Notifications delivered, by channel.",
	}, []string{"channel"})
)
