package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI provider attempts by provider, operation and outcome",
		},
		[]string{"provider", "operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)
	AIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_retries_total",
			Help: "Total number of retried AI attempts by error kind",
		},
		[]string{"kind"},
	)

	LimiterWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter slot",
			Buckets: []float64{0, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"backend"},
	)

	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_lookups_total",
			Help: "Cache lookups by namespace and result",
		},
		[]string{"namespace", "result"},
	)
	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_evictions_total",
			Help: "Entries evicted under capacity pressure",
		},
	)
	CacheExpiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "response_cache_expired_total",
			Help: "Expired entries purged on lookup or sweep",
		},
		[]string{"namespace"},
	)
	CacheInvalidatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "response_cache_invalidated_total",
			Help: "Entries removed by explicit invalidation",
		},
	)
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "response_cache_entries",
			Help: "Live entries per namespace",
		},
		[]string{"namespace"},
	)

	AssistantRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_replies_total",
			Help: "Replies by mode and source (provider, cache, fallback)",
		},
		[]string{"mode", "source"},
	)
	TurnEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turn_events_published_total",
			Help: "Turn events published by outcome",
		},
		[]string{"outcome"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AIRetriesTotal)
	prometheus.MustRegister(LimiterWaitSeconds)
	prometheus.MustRegister(CacheLookupsTotal)
	prometheus.MustRegister(CacheEvictionsTotal)
	prometheus.MustRegister(CacheExpiredTotal)
	prometheus.MustRegister(CacheInvalidatedTotal)
	prometheus.MustRegister(CacheEntries)
	prometheus.MustRegister(AssistantRepliesTotal)
	prometheus.MustRegister(TurnEventsTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIAttempt records one provider attempt.
func ObserveAIAttempt(provider, operation, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(provider, operation, outcome).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// RecordRetry counts a retry caused by an error of the given kind.
func RecordRetry(kind string) {
	AIRetriesTotal.WithLabelValues(kind).Inc()
}

// ObserveLimiterWait records time spent waiting for a limiter slot.
func ObserveLimiterWait(backend string, d time.Duration) {
	LimiterWaitSeconds.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordCacheLookup counts a hit or miss in a cache namespace.
func RecordCacheLookup(namespace string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookupsTotal.WithLabelValues(namespace, result).Inc()
}

// RecordReply counts an assistant reply by origin.
func RecordReply(mode, source string) {
	AssistantRepliesTotal.WithLabelValues(mode, source).Inc()
}
