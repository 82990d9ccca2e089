// Package metrics exposes pipeline counters and a health check over HTTP.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// Metrics holds the pipeline collectors and the ops router
type Metrics struct {
	Router   chi.Router
	registry *prometheus.Registry
	messages *prometheus.CounterVec
	duration *prometheus.HistogramVec
	commits  *prometheus.CounterVec
	health   HealthCheck
	logger   *logrus.Logger
}

// New creates the collectors on a private registry
func New(health HealthCheck, logger *logrus.Logger) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Router:   chi.NewRouter(),
		registry: registry,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdc_messages_total",
			Help: "Stream messages processed, by table, operation and outcome",
		}, []string{"table", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cdc_message_duration_seconds",
			Help:    "Time spent processing one stream message",
			Buckets: prometheus.DefBuckets,
		}, []string{"table"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cdc_offset_commits_total",
			Help: "Offset commits, by result",
		}, []string{"result"}),
		health: health,
		logger: logger,
	}

	registry.MustRegister(m.messages, m.duration, m.commits)

	m.setupRoutes()
	return m
}

func (m *Metrics) setupRoutes() {
	m.Router.Get("/healthz", m.handleHealth)
	m.Router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}

func (m *Metrics) handleHealth(w http.ResponseWriter, r *http.Request) {
	if m.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := m.health(ctx); err != nil {
			http.Error(w, "unhealthy: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ObserveMessage records one processed message
func (m *Metrics) ObserveMessage(table, operation, outcome string, elapsed time.Duration) {
	m.messages.WithLabelValues(table, operation, outcome).Inc()
	m.duration.WithLabelValues(table).Observe(elapsed.Seconds())
}

// ObserveCommit records one offset commit attempt
func (m *Metrics) ObserveCommit(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commits.WithLabelValues(result).Inc()
}

// Serve runs the ops HTTP server until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		m.logger.Infof("Serving metrics on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
