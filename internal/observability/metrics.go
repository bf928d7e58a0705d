package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voyagekit/travel-concierge/internal/overload"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Chat-completions call rate. Watch for: error vs success ratio.
	LLMCallsTotal *prometheus.CounterVec

	// LLM latency per call. Watch for: p95 > 5s (model degradation), p99 > 15s (timeout risk).
	LLMCallDuration *prometheus.HistogramVec

	// Retry attempts against the LLM API. Watch for: high retries = unstable upstream.
	LLMRetriesTotal prometheus.Counter

	// Tokens consumed, labelled prompt/completion. Watch for: cost.
	LLMTokensTotal *prometheus.CounterVec

	// Agent runs by agent name and outcome. Watch for: one agent failing while others succeed.
	AgentRunsTotal *prometheus.CounterVec

	// Per-agent wall time including tool calls.
	AgentRunDuration *prometheus.HistogramVec

	// Tool invocations by tool name and outcome.
	ToolCallsTotal *prometheus.CounterVec

	// Non-LLM upstream API calls (weather, exchange, flights, geoip) by service and status.
	UpstreamCallsTotal *prometheus.CounterVec

	// Non-LLM upstream API latency by service.
	UpstreamCallDuration *prometheus.HistogramVec

	// Retries against non-LLM upstreams.
	UpstreamRetriesTotal *prometheus.CounterVec

	// Cache hits by cache type (forecast, geoip, amadeus_token).
	CacheHitsTotal *prometheus.CounterVec

	// Cache backend failures by operation and category.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Stale cache serves when upstream is down.
	StaleCacheServesTotal *prometheus.CounterVec

	// Age of entries served stale.
	StaleCacheAgeSeconds prometheus.Histogram

	// Coalesced forecast fetches (waiters joining an in-flight upstream call).
	RequestCoalescingHitsTotal *prometheus.CounterVec

	// Time spent waiting on a coalesced fetch.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming sweeps started.
	CacheWarmingTotal prometheus.Counter

	// Total asks served. Watch for: traffic volume, rate() for QPS.
	AsksTotal prometheus.Counter

	// Asks by chosen route (weather, exchange, flight, form, multi). Traffic mix.
	AsksByRouteTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests at shutdown. Watch for: drain effectiveness.
	shutdownInFlight prometheus.Gauge

	// Circuit breaker state per upstream (0 closed, 1 open, 2 half-open).
	circuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per upstream.
	circuitBreakerTransitions *prometheus.CounterVec

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	LLMCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmCallsTotal",
			Help: "Total number of chat-completions API calls",
		},
		[]string{"status"},
	)
	LLMCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmCallDurationSeconds",
			Help:    "Chat-completions API latency in seconds (per call)",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"status"},
	)
	LLMRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "llmRetriesTotal",
			Help: "Total number of retry attempts for chat-completions calls",
		},
	)
	LLMTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmTokensTotal",
			Help: "Tokens reported by the chat-completions API usage block",
		},
		[]string{"kind"},
	)
	AgentRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentRunsTotal",
			Help: "Agent executions by agent name and outcome",
		},
		[]string{"agent", "status"},
	)
	AgentRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentRunDurationSeconds",
			Help:    "Agent wall time in seconds including tool calls",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80},
		},
		[]string{"agent"},
	)
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolCallsTotal",
			Help: "Tool invocations requested by the model, by tool and outcome",
		},
		[]string{"tool", "status"},
	)
	UpstreamCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamCallsTotal",
			Help: "Non-LLM upstream API calls by service and status",
		},
		[]string{"service", "status"},
	)
	UpstreamCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstreamCallDurationSeconds",
			Help:    "Non-LLM upstream API latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"service"},
	)
	UpstreamRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstreamRetriesTotal",
			Help: "Retry attempts against non-LLM upstream APIs",
		},
		[]string{"service"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits by cache type",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache backend failures by operation and error category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency by operation and outcome",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5},
		},
		[]string{"operation", "outcome"},
	)
	StaleCacheServesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staleCacheServesTotal",
			Help: "Responses served from stale cache while upstream was failing",
		},
		[]string{"cacheType"},
	)
	StaleCacheAgeSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "staleCacheAgeSeconds",
			Help:    "Age of cache entries served stale",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Forecast fetches that joined an in-flight upstream call",
		},
		[]string{"cacheType"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced upstream fetch",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Cache warming sweeps started",
		},
	)
	AsksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "asksTotal",
			Help: "Total number of /v1/ask requests that reached the router",
		},
	)
	AsksByRouteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asksByRouteTotal",
			Help: "Asks by chosen agent route; multi when more than one agent ran",
		},
		[]string{"route"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	shutdownInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests observed when graceful shutdown began",
		},
	)
	circuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	circuitBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions per upstream",
		},
		[]string{"component", "from", "to"},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		LLMCallsTotal, LLMCallDuration, LLMRetriesTotal, LLMTokensTotal,
		AgentRunsTotal, AgentRunDuration, ToolCallsTotal,
		UpstreamCallsTotal, UpstreamCallDuration, UpstreamRetriesTotal,
		CacheHitsTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		StaleCacheServesTotal, StaleCacheAgeSeconds,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds, CacheWarmingTotal,
		AsksTotal, AsksByRouteTotal,
		RateLimitDeniedTotal, shutdownInFlight,
		circuitBreakerState, circuitBreakerTransitions,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as lifecycle.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(overload.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(overload.DenialCount(window)) },
			),
		)
	})
}

// RecordAsk records an ask and the set of agent routes that served it.
func RecordAsk(routes []string) {
	AsksTotal.Inc()
	switch len(routes) {
	case 0:
		AsksByRouteTotal.WithLabelValues("none").Inc()
	case 1:
		AsksByRouteTotal.WithLabelValues(normalizeRoute(routes[0])).Inc()
	default:
		AsksByRouteTotal.WithLabelValues("multi").Inc()
	}
}

// RecordShutdownInFlight records the in-flight count at the start of shutdown drain.
func RecordShutdownInFlight(count int64) {
	shutdownInFlight.Set(float64(count))
}

// RecordCircuitBreakerTransition records a breaker state change for an upstream component.
func RecordCircuitBreakerTransition(component, from, to string) {
	circuitBreakerTransitions.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the breaker state gauge for an upstream component.
func SetCircuitBreakerStateGauge(component string, state float64) {
	circuitBreakerState.WithLabelValues(component).Set(state)
}

// CircuitBreakerStateValue converts a breaker state ordinal to the gauge value.
func CircuitBreakerStateValue(state int) float64 {
	return float64(state)
}

func normalizeRoute(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
