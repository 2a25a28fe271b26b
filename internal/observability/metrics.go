package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "webhook_dispatcher"

// Metrics stores Prometheus collectors used by the API, the dispatcher and the
// retry sweeper.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal       *prometheus.CounterVec
	httpRequestDuration     *prometheus.HistogramVec
	dispatchesTotal         *prometheus.CounterVec
	deliveriesSucceeded     *prometheus.CounterVec
	deliveriesFailed        *prometheus.CounterVec
	deliveryAttemptDuration *prometheus.HistogramVec
	deliveriesInflight      *prometheus.GaugeVec
	retryScheduledTotal     *prometheus.CounterVec
	sweepClaimedTotal       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		dispatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatches_total",
				Help:      "Total number of event firings handed to the dispatcher.",
			},
			[]string{"event"},
		),
		deliveriesSucceeded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_succeeded_total",
				Help:      "Total number of deliveries that reached the success state.",
			},
			[]string{"event"},
		),
		deliveriesFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deliveries_failed_total",
				Help:      "Total number of failed delivery attempts by failure reason.",
			},
			[]string{"event", "reason"},
		),
		deliveryAttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delivery_attempt_duration_seconds",
				Help:      "Outbound webhook request duration in seconds grouped by event.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"event"},
		),
		deliveriesInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "deliveries_inflight",
				Help:      "Current number of in-flight delivery attempts grouped by event.",
			},
			[]string{"event"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_scheduled_total",
				Help:      "Total number of deliveries moved to the retrying state.",
			},
			[]string{"event"},
		),
		sweepClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_claimed_total",
				Help:      "Total number of retrying records claimed for another attempt by trigger.",
			},
			[]string{"trigger"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.dispatchesTotal,
		m.deliveriesSucceeded,
		m.deliveriesFailed,
		m.deliveryAttemptDuration,
		m.deliveriesInflight,
		m.retryScheduledTotal,
		m.sweepClaimedTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncDispatch(event string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncDeliverySucceeded(event string) {
	if m == nil {
		return
	}
	m.deliveriesSucceeded.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncDeliveryFailed(event string, reason string) {
	if m == nil {
		return
	}
	m.deliveriesFailed.WithLabelValues(normalizeLabel(event), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveAttemptDuration(event string, duration time.Duration) {
	if m == nil {
		return
	}
	m.deliveryAttemptDuration.WithLabelValues(normalizeLabel(event)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncInFlight(event string) {
	if m == nil {
		return
	}
	m.deliveriesInflight.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) DecInFlight(event string) {
	if m == nil {
		return
	}
	m.deliveriesInflight.WithLabelValues(normalizeLabel(event)).Dec()
}

func (m *Metrics) IncRetryScheduled(event string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeLabel(event)).Inc()
}

func (m *Metrics) IncSweepClaimed(trigger string) {
	if m == nil {
		return
	}
	m.sweepClaimedTotal.WithLabelValues(normalizeLabel(trigger)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
