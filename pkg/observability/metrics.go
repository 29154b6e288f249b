package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	AuthFailuresTotal   *prometheus.CounterVec
	RateLimitedTotal    *prometheus.CounterVec

	// Billing metrics
	CheckoutSessionsTotal      *prometheus.CounterVec
	CustomersCreatedTotal      prometheus.Counter
	WebhookEventsTotal         *prometheus.CounterVec
	WebhookSignatureFailures   prometheus.Counter
	SubscriptionActionsTotal   *prometheus.CounterVec
	ProviderRequestDuration    *prometheus.HistogramVec
	ProviderErrorsTotal        *prometheus.CounterVec
	StatusCacheLookupsTotal    *prometheus.CounterVec
	ProcessedEventsPrunedTotal prometheus.Counter

	// Entitlement metrics
	QuotaDecisionsTotal  *prometheus.CounterVec
	FeatureChecksTotal   *prometheus.CounterVec
	TransformationsTotal *prometheus.CounterVec
	LLMRequestDuration   prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notewise_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_auth_failures_total",
				Help: "Requests rejected by bearer token authentication",
			},
			[]string{"reason"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_rate_limited_total",
				Help: "Requests refused by the rate limiter, by key scope",
			},
			[]string{"scope"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_checkout_sessions_total",
				Help: "Checkout sessions requested, by plan and result",
			},
			[]string{"plan", "result"},
		),
		CustomersCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notewise_provider_customers_created_total",
				Help: "Payment provider customers created",
			},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_webhook_events_total",
				Help: "Webhook events received, by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		WebhookSignatureFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notewise_webhook_signature_failures_total",
				Help: "Webhook deliveries rejected for a bad signature",
			},
		),
		SubscriptionActionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_subscription_actions_total",
				Help: "User-initiated subscription changes, by action and result",
			},
			[]string{"action", "result"},
		),
		ProviderRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notewise_provider_request_duration_seconds",
				Help:    "Payment provider call latency",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		ProviderErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_provider_errors_total",
				Help: "Payment provider call failures",
			},
			[]string{"operation"},
		),
		StatusCacheLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_status_cache_lookups_total",
				Help: "Subscription status cache lookups, by tier and result",
			},
			[]string{"tier", "result"},
		),
		ProcessedEventsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notewise_processed_events_pruned_total",
				Help: "Processed webhook event ids removed by maintenance",
			},
		),
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_quota_decisions_total",
				Help: "Transformation quota checks, by plan and decision",
			},
			[]string{"plan", "decision"},
		),
		FeatureChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_feature_checks_total",
				Help: "Feature flag checks, by feature and decision",
			},
			[]string{"feature", "decision"},
		),
		TransformationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewise_transformations_total",
				Help: "Note transformations, by template and result",
			},
			[]string{"template", "result"},
		),
		LLMRequestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notewise_llm_request_duration_seconds",
				Help:    "LLM completion latency",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40},
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthFailuresTotal,
		m.RateLimitedTotal,
		m.CheckoutSessionsTotal,
		m.CustomersCreatedTotal,
		m.WebhookEventsTotal,
		m.WebhookSignatureFailures,
		m.SubscriptionActionsTotal,
		m.ProviderRequestDuration,
		m.ProviderErrorsTotal,
		m.StatusCacheLookupsTotal,
		m.ProcessedEventsPrunedTotal,
		m.QuotaDecisionsTotal,
		m.FeatureChecksTotal,
		m.TransformationsTotal,
		m.LLMRequestDuration,
	)

	return m
}

// NewNopMetrics returns metrics registered on a throwaway registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// ObserveProvider records the latency and outcome of a provider call
func (m *Metrics) ObserveProvider(operation string, start time.Time, err error) {
	m.ProviderRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		m.ProviderErrorsTotal.WithLabelValues(operation).Inc()
	}
}

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests. Routes are labelled with
// their mux path template so ids never explode label cardinality.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
