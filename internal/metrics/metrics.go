// Package metrics exposes Prometheus counters and histograms for the
// executor's step timings and the source cache's fetch volume, following
// the optional --metrics-addr HTTP endpoint pattern of cie's indexer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	stepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bq2_step_duration_seconds",
		Help:    "Duration of a single build step, by phase/step/strategy.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. 8192s (~2.3h)
	}, []string{"phase", "step", "strategy"})

	stepFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq2_step_failures_total",
		Help: "Count of build step failures, by phase/step.",
	}, []string{"phase", "step"})

	fetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq2_fetch_bytes_total",
		Help: "Bytes downloaded into the source cache, by package name.",
	}, []string{"package"})

	fetchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bq2_fetch_failures_total",
		Help: "Count of source-cache fetch/verify failures, by package name.",
	}, []string{"package"})
)

// ObserveStep records a completed step's wall-clock duration.
func ObserveStep(phase, step, strategy string, d time.Duration) {
	stepDuration.WithLabelValues(phase, step, strategy).Observe(d.Seconds())
}

// IncStepFailure records a step failure.
func IncStepFailure(phase, step string) {
	stepFailures.WithLabelValues(phase, step).Inc()
}

// AddFetchBytes records bytes downloaded for a package's source archive.
func AddFetchBytes(pkg string, n int64) {
	fetchBytes.WithLabelValues(pkg).Add(float64(n))
}

// IncFetchFailure records a source-cache fetch/verify failure.
func IncFetchFailure(pkg string) {
	fetchFailures.WithLabelValues(pkg).Inc()
}

// Serve starts an HTTP server exposing /metrics at addr, matching cie's
// --metrics-addr flag (empty disables the endpoint entirely; callers
// check that before calling Serve). It listens in a background
// goroutine and shuts down when ctx is cancelled.
func Serve(ctx context.Context, addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).WithField("addr", addr).Error("metrics server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return srv
}
