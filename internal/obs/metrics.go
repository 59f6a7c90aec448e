package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run-level metrics for the separation scheduler.
var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "separation_runs_total",
			Help: "Completed scheduler runs.",
		},
		[]string{"tenant", "outcome"},
	)

	recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "separation_records_total",
			Help: "Termination records processed.",
		},
		[]string{"tenant", "result"},
	)

	tokenRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "separation_token_refreshes_total",
			Help: "Access token refresh attempts.",
		},
		[]string{"tenant", "outcome"},
	)

	apiCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "separation_api_call_duration_seconds",
			Help:    "Outbound Employee Central call latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "call"},
	)
)

// Init registers the metrics in the default registry.
func Init() {
	prometheus.MustRegister(runsTotal, recordsTotal, tokenRefreshesTotal, apiCallDuration)
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

func CountRun(tenant, outcome string) {
	runsTotal.WithLabelValues(tenant, outcome).Inc()
}

func CountRecord(tenant, result string) {
	recordsTotal.WithLabelValues(tenant, result).Inc()
}

func CountTokenRefresh(tenant, outcome string) {
	tokenRefreshesTotal.WithLabelValues(tenant, outcome).Inc()
}

// ObserveCall records the duration of one outbound API call.
func ObserveCall(tenant, call string, start time.Time) {
	apiCallDuration.WithLabelValues(tenant, call).Observe(time.Since(start).Seconds())
}
