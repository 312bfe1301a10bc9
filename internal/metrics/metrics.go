package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every soulcrush collector. It is separate from the
// global default registry so tests can gather it without process noise.
var Registry = prometheus.NewRegistry()

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soulcrush_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "soulcrush_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	}, []string{"method", "path"})

	Mutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soulcrush_mutations_total",
		Help: "Application mutations by kind and outcome",
	}, []string{"kind", "outcome"})

	ListFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "soulcrush_list_fetches_total",
		Help: "Application list fetches by outcome (ok, error, stale)",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(HTTPRequests, HTTPDuration, Mutations, ListFetches)
}

// RecordRequest increments request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	HTTPDuration.WithLabelValues(method, path).Observe(float64(latencyMs))
}

// RecordMutation counts one create/delete/update attempt.
func RecordMutation(kind string, success bool) {
	outcome := "failed"
	if success {
		outcome = "committed"
	}
	Mutations.WithLabelValues(kind, outcome).Inc()
}

// RecordListFetch counts one completed list fetch. Stale fetches are
// those whose result was discarded because a newer one was requested.
func RecordListFetch(outcome string) {
	ListFetches.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
