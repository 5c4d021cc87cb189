// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	CommandsProcessed prometheus.Counter
	CommandErrors     prometheus.Counter
	CommandsDropped   prometheus.Counter
	MeetingsStarted   prometheus.Counter
	MeetingsEnded     prometheus.Counter
	MessagesRecorded  prometheus.Counter
	ActionItems       prometheus.Counter
	KarmaGiven        prometheus.Counter

	// Histograms (seconds)
	ExportDuration prometheus.Observer

	// Gauges
	OpenMeetingsGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_commands_total", Help: "Number of chat intents handled"})
		CommandErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_command_errors_total", Help: "Number of intents that failed"})
		CommandsDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_commands_dropped_total", Help: "Number of intents dropped due to a full channel queue"})
		MeetingsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_meetings_started_total", Help: "Number of meetings opened"})
		MeetingsEnded = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_meetings_ended_total", Help: "Number of meetings closed"})
		MessagesRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_messages_recorded_total", Help: "Number of transcript lines recorded"})
		ActionItems = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_action_items_total", Help: "Number of action items recorded"})
		KarmaGiven = promauto.NewCounter(prometheus.CounterOpts{Name: "meetbot_karma_given_total", Help: "Number of karma points granted"})
		ExportDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "meetbot_export_duration_seconds", Help: "Minutes export duration seconds", Buckets: prometheus.DefBuckets})
		OpenMeetingsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "meetbot_open_meetings", Help: "Current number of open meetings"})
	})
}

// Guarded increment helpers so callers work even before Init (tests).
func IncCommand() {
	if CommandsProcessed != nil {
		CommandsProcessed.Inc()
	}
}

func IncCommandError() {
	if CommandErrors != nil {
		CommandErrors.Inc()
	}
}

func IncCommandDropped() {
	if CommandsDropped != nil {
		CommandsDropped.Inc()
	}
}

func IncMeetingStarted() {
	if MeetingsStarted != nil {
		MeetingsStarted.Inc()
	}
}

func IncMeetingEnded() {
	if MeetingsEnded != nil {
		MeetingsEnded.Inc()
	}
}

func IncMessageRecorded() {
	if MessagesRecorded != nil {
		MessagesRecorded.Inc()
	}
}

func IncActionItem() {
	if ActionItems != nil {
		ActionItems.Inc()
	}
}

func IncKarmaGiven() {
	if KarmaGiven != nil {
		KarmaGiven.Inc()
	}
}

// SetOpenMeetings records the current open-meeting count.
func SetOpenMeetings(n int) {
	if OpenMeetingsGauge != nil {
		OpenMeetingsGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
