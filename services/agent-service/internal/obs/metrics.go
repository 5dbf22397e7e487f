package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aide_http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aide_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// ProviderCalls counts vendor calls by provider, operation and outcome kind.
	ProviderCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_provider_calls_total",
			Help: "Remote provider calls by outcome.",
		},
		[]string{"provider", "kind"},
	)

	// ProviderRetries counts retried vendor calls by error kind.
	ProviderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_provider_retries_total",
			Help: "Retried remote provider calls.",
		},
		[]string{"provider", "kind"},
	)

	// FanOutFailures counts providers omitted from a merged fan-out result.
	FanOutFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_fanout_failures_total",
			Help: "Providers omitted from fan-out results after an error.",
		},
		[]string{"provider", "operation"},
	)

	// EmailsObserved counts new message ids delivered by change monitoring.
	EmailsObserved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_emails_observed_total",
			Help: "New messages observed by change monitoring.",
		},
		[]string{"provider"},
	)

	// LLMCache counts chat cache lookups by result (hit, miss).
	LLMCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_llm_cache_total",
			Help: "LLM response cache lookups.",
		},
		[]string{"result"},
	)

	// LLMRequests counts model calls by adapter and outcome.
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aide_llm_requests_total",
			Help: "Model provider calls.",
		},
		[]string{"provider", "outcome"},
	)

	// LLMLimiterWait observes time spent waiting for a rate limiter slot.
	LLMLimiterWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aide_llm_limiter_wait_seconds",
		Help:    "Time spent waiting for an LLM rate limiter slot.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	registerOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight,
			httpRequestDuration,
			ProviderCalls,
			ProviderRetries,
			FanOutFailures,
			EmailsObserved,
			LLMCache,
			LLMRequests,
			LLMLimiterWait,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records in-flight count and latency per matched gin route.
func Instrument() gin.HandlerFunc {
	return func(c *gin.Context) {
		httpInFlight.Inc()
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
		httpInFlight.Dec()
	}
}
