package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	JobsTotal         *prometheus.CounterVec
	ScrapedPagesTotal prometheus.Counter
	ScrapedItemsTotal *prometheus.CounterVec
	FetchDuration     prometheus.Histogram

	ProxyOutcomesTotal        *prometheus.CounterVec
	ProxyTripsTotal           prometheus.Counter
	SessionInvalidationsTotal *prometheus.CounterVec
)

func Init() {
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_jobs_total",
			Help: "Total number of finalized crawl jobs.",
		},
		[]string{"status"}, // completed, failed, cancelled
	)

	ScrapedPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scraped_pages_total",
			Help: "Total number of index pages scraped successfully.",
		},
	)

	ScrapedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraped_items_total",
			Help: "Total number of listings processed.",
		},
		[]string{"result"}, // created, updated, failed
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "page_fetch_duration_seconds",
			Help:    "Duration of outbound page fetches.",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		},
	)

	ProxyOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_outcomes_total",
			Help: "Total number of reported proxy outcomes.",
		},
		[]string{"result"}, // success, failure
	)

	ProxyTripsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_trips_total",
			Help: "Times a proxy was marked not working after consecutive failures.",
		},
	)

	SessionInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_invalidations_total",
			Help: "Total number of session bundle invalidations.",
		},
		[]string{"reason"}, // expired, rejected
	)
}
