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

// Metrics stores Prometheus collectors used by the API and send loops.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	emailsSentTotal          *prometheus.CounterVec
	emailsFailedTotal        *prometheus.CounterVec
	emailSendDuration        *prometheus.HistogramVec
	sendJobsInflight         *prometheus.GaugeVec
	usageRejectionsTotal     *prometheus.CounterVec
	campaignTransitionsTotal *prometheus.CounterVec
}

const metricsNamespace = "campaign_engine"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		emailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_sent_total",
				Help:      "Total number of emails accepted by the mail transport.",
			},
			[]string{"source"},
		),
		emailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "emails_failed_total",
				Help:      "Total number of emails the mail transport rejected or could not deliver.",
			},
			[]string{"source", "reason"},
		),
		emailSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "email_send_duration_seconds",
				Help:      "Mail transport call duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"source"},
		),
		sendJobsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "send_jobs_inflight",
				Help:      "Current number of running send loops grouped by job kind.",
			},
			[]string{"kind"},
		),
		usageRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "usage_rejections_total",
				Help:      "Total number of admission checks rejected by plan limits.",
			},
			[]string{"resource"},
		),
		campaignTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "campaign_transitions_total",
				Help:      "Total number of campaign status transitions by target status.",
			},
			[]string{"status"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.emailsSentTotal,
		m.emailsFailedTotal,
		m.emailSendDuration,
		m.sendJobsInflight,
		m.usageRejectionsTotal,
		m.campaignTransitionsTotal,
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
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncEmailSent(source string) {
	if m == nil {
		return
	}
	m.emailsSentTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncEmailFailed(source string, reason string) {
	if m == nil {
		return
	}
	m.emailsFailedTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveEmailSendDuration(source string, duration time.Duration) {
	if m == nil {
		return
	}
	m.emailSendDuration.WithLabelValues(normalizeLabel(source)).Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncSendJobsInFlight(kind string) {
	if m == nil {
		return
	}
	m.sendJobsInflight.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) DecSendJobsInFlight(kind string) {
	if m == nil {
		return
	}
	m.sendJobsInflight.WithLabelValues(normalizeLabel(kind)).Dec()
}

func (m *Metrics) IncUsageRejected(resource string) {
	if m == nil {
		return
	}
	m.usageRejectionsTotal.WithLabelValues(normalizeLabel(resource)).Inc()
}

func (m *Metrics) IncCampaignTransition(status string) {
	if m == nil {
		return
	}
	m.campaignTransitionsTotal.WithLabelValues(normalizeLabel(status)).Inc()
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
