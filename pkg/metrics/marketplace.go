package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quickbuyer"

// Outcome labels shared by the marketplace counters.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
	OutcomeIgnored  = "ignored"
	OutcomeDeduped  = "deduped"
)

// Marketplace holds the request and business counters for the API process.
// A nil *Marketplace is valid and records nothing.
type Marketplace struct {
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	checkouts     *prometheus.CounterVec
	webhookEvents *prometheus.CounterVec
	downloads     *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	uploadBytes   *prometheus.CounterVec
}

func NewMarketplace(reg prometheus.Registerer) *Marketplace {
	if reg == nil {
		return nil
	}
	m := &Marketplace{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkouts_total",
			Help:      "Checkout sessions requested from the payment processor.",
		}, []string{"kind", "outcome"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Download gate decisions.",
		}, []string{"outcome"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Thumbnail and IPFS uploads.",
		}, []string{"kind", "outcome"}),
		uploadBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_bytes_total",
			Help:      "Bytes relayed to storage.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.checkouts, m.webhookEvents, m.downloads, m.uploads, m.uploadBytes)
	return m
}

func (m *Marketplace) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	route = normalizeLabel(route)
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Marketplace) Checkout(kind, outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(normalizeLabel(kind), normalizeLabel(outcome)).Inc()
}

func (m *Marketplace) WebhookEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *Marketplace) Download(outcome string) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func (m *Marketplace) Upload(kind, outcome string, size int64) {
	if m == nil {
		return
	}
	kind = normalizeLabel(kind)
	m.uploads.WithLabelValues(kind, normalizeLabel(outcome)).Inc()
	if outcome == OutcomeSuccess && size > 0 {
		m.uploadBytes.WithLabelValues(kind).Add(float64(size))
	}
}
