// Package metrics exposes dispatch counters in the Prometheus format.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "conservator"

// Exit statuses recorded by ObserveExit.
const (
	ExitOK         = "ok"
	ExitFailed     = "failed"
	ExitSpawnError = "spawn_error"
)

type Metrics struct {
	events          *prometheus.CounterVec
	invocations     prometheus.Counter
	transformErrors prometheus.Counter
	exits           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Filesystem events received, by operation.",
		}, []string{"op"}),
		invocations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_total",
			Help:      "Commands resolved from filesystem events.",
		}),
		transformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Transforms that failed while resolving a target.",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_exits_total",
			Help:      "Finished commands, by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.events, m.invocations, m.transformErrors, m.exits)
	return m
}

func (m *Metrics) ObserveEvent(op string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveInvocation() {
	if m == nil {
		return
	}
	m.invocations.Inc()
}

func (m *Metrics) ObserveTransformError() {
	if m == nil {
		return
	}
	m.transformErrors.Inc()
}

func (m *Metrics) ObserveExit(status string) {
	if m == nil {
		return
	}
	m.exits.WithLabelValues(status).Inc()
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}()

	logger.Debug("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
