// Package server exposes the operational HTTP surface: liveness, readiness,
// a status snapshot, and Prometheus metrics. It also injects correlation
// IDs into request contexts for consistent logging.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/codes"

	"github.com/onnwee/voicecord/encode"
	"github.com/onnwee/voicecord/record"
	"github.com/onnwee/voicecord/telemetry"
)

// Deps is everything the handlers read from. Ready gates /readyz; typically
// it reports whether the platform bridge connection is up.
type Deps struct {
	Registry *record.Registry
	Queue    *encode.Queue
	Ready    func() bool
}

// NewHandler builds the full handler chain: routes wrapped with correlation
// ID injection and tracing.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil && !d.Ready() {
			http.Error(w, "bridge not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		type status struct {
			ActiveSessions  int      `json:"active_sessions"`
			SessionKeys     []string `json:"session_keys"`
			EncodeQueueLen  int      `json:"encode_queue_len"`
			EncodeBusy      bool     `json:"encode_busy"`
			BridgeConnected bool     `json:"bridge_connected"`
		}
		st := status{}
		if d.Registry != nil {
			st.ActiveSessions = d.Registry.Active()
			st.SessionKeys = d.Registry.ActiveKeys()
		}
		if d.Queue != nil {
			st.EncodeQueueLen = d.Queue.Depth()
			st.EncodeBusy = d.Queue.Busy()
		}
		if d.Ready != nil {
			st.BridgeConnected = d.Ready()
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(st); err != nil {
			slog.Warn("status encode", slog.Any("error", err), slog.String("component", "http"))
		}
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Reuse corr header if provided else generate
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		mux.ServeHTTP(rec, r.WithContext(ctx))

		if rec.statusCode >= 400 {
			span.SetStatus(codes.Error, http.StatusText(rec.statusCode))
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server until ctx is canceled, then shuts it down with
// a short grace period.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
