// Package telemetry provides Prometheus metrics and correlation-id aware
// logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	SessionsPlanned    prometheus.Counter
	SessionsLaunched   prometheus.Counter
	LaunchFailures     prometheus.Counter
	ReconcileCycles    prometheus.Counter
	LiveTransitions    prometheus.Counter
	EndedTransitions   prometheus.Counter
	SafetyTimeouts     prometheus.Counter
	TokenRefreshes     prometheus.Counter
	TokenRefreshFails  prometheus.Counter
	RecordingsIngested prometheus.Counter
	RecordingsFailed   prometheus.Counter
	FanoutDelivered    prometheus.Counter
	FanoutFailed       prometheus.Counter

	// Histograms (seconds)
	ReconcileDuration prometheus.Observer
	LaunchDuration    prometheus.Observer

	// Gauges
	ActiveSessionsGauge prometheus.Gauge
	PendingRecordings   prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsPlanned = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_sessions_planned_total", Help: "Sessions materialized by the schedule planner"})
		SessionsLaunched = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_sessions_launched_total", Help: "Sessions transitioned to starting by the launcher"})
		LaunchFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_launch_failures_total", Help: "Broadcast creation attempts that failed"})
		ReconcileCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_reconcile_cycles_total", Help: "Reconciliation passes over active sessions"})
		LiveTransitions = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_live_transitions_total", Help: "Sessions transitioned to live"})
		EndedTransitions = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_ended_transitions_total", Help: "Sessions transitioned to ended"})
		SafetyTimeouts = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_safety_timeouts_total", Help: "Sessions force-ended by the safety timeout"})
		TokenRefreshes = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_token_refreshes_total", Help: "Successful OAuth token refreshes"})
		TokenRefreshFails = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_token_refresh_failures_total", Help: "Failed OAuth token refreshes"})
		RecordingsIngested = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_recordings_ingested_total", Help: "Recordings ingested into the content catalog"})
		RecordingsFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_recordings_failed_total", Help: "Recordings abandoned after exhausting attempts"})
		FanoutDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_fanout_delivered_total", Help: "Notifications delivered"})
		FanoutFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "liveclass_fanout_failed_total", Help: "Notification deliveries that failed"})
		ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "liveclass_reconcile_duration_seconds", Help: "Reconciliation pass duration seconds", Buckets: prometheus.DefBuckets})
		LaunchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "liveclass_launch_duration_seconds", Help: "Launch duration seconds", Buckets: prometheus.DefBuckets})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "liveclass_active_sessions", Help: "Sessions currently in starting or live"})
		PendingRecordings = promauto.NewGauge(prometheus.GaugeOpts{Name: "liveclass_pending_recordings", Help: "Recordings awaiting provider processing"})
	})
}

// SetActiveSessions records the number of sessions in starting/live.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetPendingRecordings records the number of recordings still pending.
func SetPendingRecordings(n int) {
	if PendingRecordings != nil {
		PendingRecordings.Set(float64(n))
	}
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute when present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
