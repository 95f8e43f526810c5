package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_runs_total",
		Help: "Total number of sync runs by trigger and result.",
	}, []string{"trigger", "result"})

	streamRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_stream_records_total",
		Help: "Records acknowledged by the CRM, per stream.",
	}, []string{"stream"})

	streamFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crmsync_stream_failures_total",
		Help: "Failed stream syncs by error class.",
	}, []string{"stream", "class"})

	streamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmsync_stream_duration_seconds",
		Help:    "Histogram of per-stream reconcile and transmit latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"stream", "result"})

	watermark = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmsync_watermark_unix_ms",
		Help: "Last committed sync watermark per stream.",
	}, []string{"stream"})
)

// ObserveRun counts a finished run.
func ObserveRun(trigger string, success bool) {
	runsTotal.WithLabelValues(trigger, result(success)).Inc()
}

// ObserveStream records a stream attempt. class is empty on success.
func ObserveStream(stream string, count int, success bool, class string, start time.Time) {
	streamDuration.WithLabelValues(stream, result(success)).Observe(time.Since(start).Seconds())
	if success {
		streamRecordsTotal.WithLabelValues(stream).Add(float64(count))
		return
	}
	streamFailuresTotal.WithLabelValues(stream, class).Inc()
}

// SetWatermark exports the committed watermark for stream.
func SetWatermark(stream string, ts int64) {
	watermark.WithLabelValues(stream).Set(float64(ts))
}

// Router exposes /metrics and /healthz.
func Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
