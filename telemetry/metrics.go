// Package telemetry provides Prometheus metrics, tracing setup, correlation-id
// aware logging helpers, and the append-only recording journal.
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
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	SessionsAborted   prometheus.Counter
	SessionsTooShort  prometheus.Counter
	SessionsLimitHit  prometheus.Counter
	EncodesSucceeded  prometheus.Counter
	EncodesFailed     prometheus.Counter
	DeliveriesFailed  prometheus.Counter

	// Histograms (seconds)
	EncodeDuration    prometheus.Observer
	RecordingDuration prometheus.Observer

	// Gauges
	ActiveSessionsGauge   prometheus.Gauge
	EncodeQueueDepthGauge prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_sessions_started_total", Help: "Number of recording sessions started"})
		SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_sessions_completed_total", Help: "Number of recording sessions delivered"})
		SessionsAborted = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_sessions_aborted_total", Help: "Number of recording sessions aborted"})
		SessionsTooShort = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_sessions_too_short_total", Help: "Number of recordings rejected as too short"})
		SessionsLimitHit = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_sessions_limit_total", Help: "Number of recordings force-finished at the duration cap"})
		EncodesSucceeded = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_encodes_succeeded_total", Help: "Number of mux jobs completed"})
		EncodesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_encodes_failed_total", Help: "Number of mux jobs failed"})
		DeliveriesFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "voicecord_deliveries_failed_total", Help: "Number of clip deliveries that failed"})
		EncodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "voicecord_encode_duration_seconds", Help: "Mux job duration seconds", Buckets: prometheus.DefBuckets})
		RecordingDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "voicecord_recording_duration_seconds", Help: "Delivered recording length seconds", Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}})
		ActiveSessionsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "voicecord_active_sessions", Help: "Recording sessions currently in the registry"})
		EncodeQueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "voicecord_encode_queue_depth", Help: "Mux jobs waiting behind the in-flight job"})
	})
}

// SetActiveSessions records the current registry size.
func SetActiveSessions(n int) {
	if ActiveSessionsGauge != nil {
		ActiveSessionsGauge.Set(float64(n))
	}
}

// SetEncodeQueueDepth records the number of queued mux jobs.
func SetEncodeQueueDepth(n int) {
	if EncodeQueueDepthGauge != nil {
		EncodeQueueDepthGauge.Set(float64(n))
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
