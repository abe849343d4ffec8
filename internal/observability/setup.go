package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	// Global logger instance. A nop logger until Init swaps in the
	// production one, so packages can log through it unconditionally.
	Logger = zap.NewNop()

	// Metrics
	moderationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "moderation_decisions_total",
			Help: "Total number of moderation rate-limit decisions",
		},
		[]string{"action", "outcome"},
	)

	antiNukeTripsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "antinuke_trips_total",
			Help: "Total number of anti-nuke limit trips",
		},
		[]string{"action_type", "window"},
	)

	quarantinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarantines_total",
			Help: "Total number of quarantine operations",
		},
		[]string{"kind"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time spent dispatching inbound events",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
)

func Init(ctx context.Context, metricsAddr string) error {
	production, err := zap.NewProduction()
	if err != nil {
		return err
	}
	Logger = production

	prometheus.MustRegister(moderationDecisionsTotal)
	prometheus.MustRegister(antiNukeTripsTotal)
	prometheus.MustRegister(quarantinesTotal)
	prometheus.MustRegister(dispatchDuration)

	tp := trace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server failed")
		}
	}()

	return nil
}

func RecordModerationDecision(action, outcome string) {
	moderationDecisionsTotal.WithLabelValues(action, outcome).Inc()
}

func RecordAntiNukeTrip(actionType, window string) {
	antiNukeTripsTotal.WithLabelValues(actionType, window).Inc()
}

func RecordQuarantine(kind string) {
	quarantinesTotal.WithLabelValues(kind).Inc()
}

// StartDispatch returns a function recording the elapsed dispatch duration.
func StartDispatch() func(status string) {
	start := time.Now()
	return func(status string) {
		dispatchDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}
}
