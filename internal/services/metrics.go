package services

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector tracks gateway and webhook counters. Each collector owns its
// registry so tests can create as many as they like.
type MetricsCollector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitHits    prometheus.Counter
	webhookDelivered *prometheus.CounterVec
	webhookDuration  prometheus.Histogram

	mu                sync.RWMutex
	totalRequests     int64
	errorRequests     int64
	totalResponseTime int64
	rateLimitCount    int64
	deliveriesOK      int64
	deliveriesFailed  int64
	startTime         time.Time
}

func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "requests_total",
				Help:      "Total number of gateway requests by resource and status.",
			},
			[]string{"method", "resource", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway request latency in seconds.",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "resource"},
		),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected because the key exhausted its hourly quota.",
		}),
		webhookDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Name:      "webhook_deliveries_total",
				Help:      "Webhook delivery attempts by event and outcome.",
			},
			[]string{"event", "outcome"},
		),
		webhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Webhook delivery latency in seconds.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		startTime: time.Now(),
	}

	mc.registry.MustRegister(
		mc.requestsTotal,
		mc.requestDuration,
		mc.rateLimitHits,
		mc.webhookDelivered,
		mc.webhookDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return mc
}

// Handler serves the Prometheus exposition format.
func (mc *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(mc.registry, promhttp.HandlerOpts{})
}

func (mc *MetricsCollector) RecordRequest(method, resource string, statusCode int, duration time.Duration) {
	mc.requestsTotal.WithLabelValues(method, resource, strconv.Itoa(statusCode)).Inc()
	mc.requestDuration.WithLabelValues(method, resource).Observe(duration.Seconds())

	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.totalRequests++
	mc.totalResponseTime += duration.Milliseconds()
	if statusCode >= 400 {
		mc.errorRequests++
	}
}

func (mc *MetricsCollector) RecordRateLimitHit() {
	mc.rateLimitHits.Inc()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.rateLimitCount++
}

func (mc *MetricsCollector) RecordWebhookDelivery(event string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	mc.webhookDelivered.WithLabelValues(event, outcome).Inc()
	mc.webhookDuration.Observe(duration.Seconds())

	mc.mu.Lock()
	defer mc.mu.Unlock()
	if success {
		mc.deliveriesOK++
	} else {
		mc.deliveriesFailed++
	}
}

type MetricsSnapshot struct {
	UptimeSeconds     int64   `json:"uptime_seconds"`
	TotalRequests     int64   `json:"total_requests"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	ErrorRate         float64 `json:"error_rate"`
	RateLimitHits     int64   `json:"rate_limit_hits"`
	WebhooksDelivered int64   `json:"webhooks_delivered"`
	WebhooksFailed    int64   `json:"webhooks_failed"`
	Timestamp         string  `json:"timestamp"`
}

func (mc *MetricsCollector) GetSnapshot() *MetricsSnapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	snapshot := &MetricsSnapshot{
		UptimeSeconds:     int64(time.Since(mc.startTime).Seconds()),
		TotalRequests:     mc.totalRequests,
		RateLimitHits:     mc.rateLimitCount,
		WebhooksDelivered: mc.deliveriesOK,
		WebhooksFailed:    mc.deliveriesFailed,
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	if mc.totalRequests > 0 {
		snapshot.AvgResponseTimeMs = float64(mc.totalResponseTime) / float64(mc.totalRequests)
		snapshot.ErrorRate = float64(mc.errorRequests) / float64(mc.totalRequests)
	}

	return snapshot
}
