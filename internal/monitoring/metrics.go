package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	remoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congressus_remote_requests_total",
			Help: "Requests sent to the Congressus API",
		},
		[]string{"operation", "status"},
	)

	remoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "congressus_remote_request_duration_seconds",
			Help:    "Duration of Congressus API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	cacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congressus_cache_reads_total",
			Help: "Cache reads per entity kind, split by whether the cache was served or refreshed",
		},
		[]string{"kind", "result"},
	)

	reconciledRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congressus_cache_reconciled_rows_total",
			Help: "Cached rows deleted because they disappeared upstream",
		},
		[]string{"kind"},
	)

	presenceMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "congressus_presence_mutations_total",
			Help: "Ticket presence changes by outcome",
		},
		[]string{"outcome"},
	)
)

// TrackRemote records one Congressus request.
func TrackRemote(operation, status string, took time.Duration) {
	remoteRequests.WithLabelValues(operation, status).Inc()
	remoteDuration.WithLabelValues(operation).Observe(took.Seconds())
}

// TrackCacheRead records whether a read was served from cache ("hit") or
// triggered a remote refresh ("refresh").
func TrackCacheRead(kind, result string) {
	cacheReads.WithLabelValues(kind, result).Inc()
}

func TrackReconciled(kind string, n int) {
	reconciledRows.WithLabelValues(kind).Add(float64(n))
}

func TrackPresence(outcome string) {
	presenceMutations.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}
