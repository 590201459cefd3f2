package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Upload outcomes
const (
	OutcomeUploaded = "uploaded"
	OutcomeCached   = "cached"
	OutcomeShared   = "shared"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
)

var (
	MessagesGenerated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_messages_generated_total",
		Help: "Messages composed, by content type.",
	}, []string{"content_type"})

	CompositionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_composition_failures_total",
		Help: "Send requests rejected or failed during generation, by error code.",
	}, []string{"code"})

	CompositionWarnings = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_composition_warnings_total",
		Help: "Non-fatal composition conflicts, by warning code.",
	}, []string{"code"})

	Uploads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_media_uploads_total",
		Help: "Media upload requests, by media type and outcome.",
	}, []string{"media_type", "outcome"})

	UploadDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wacompose_media_upload_duration_seconds",
		Help:    "Time spent in the upload capability.",
		Buckets: prometheus.DefBuckets,
	}, []string{"media_type"})

	UploadCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_upload_cache_lookups_total",
		Help: "Upload cache lookups, by backend and result (hit, miss, error).",
	}, []string{"backend", "result"})

	ConnRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_media_conn_refreshes_total",
		Help: "Media connection info refreshes, by result.",
	}, []string{"result"})

	ReconcilerUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_reconciler_updates_total",
		Help: "Inbound updates applied to history, by update type and outcome.",
	}, []string{"type", "outcome"})

	ReceiptsMerged = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_receipts_total",
		Help: "Receipt updates, by outcome (applied, stale, unknown).",
	}, []string{"outcome"})

	EventSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wacompose_event_subscribers",
		Help: "Current event bus subscribers.",
	})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wacompose_http_requests_total",
		Help: "API requests, by method, route template and status code.",
	}, []string{"method", "route", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wacompose_http_request_duration_seconds",
		Help:    "API request latency, by method and route template.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	HTTPRequestsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wacompose_http_requests_active",
		Help: "API requests currently being served.",
	})
)

// Collectors returns every collector owned by this package
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		MessagesGenerated, CompositionFailures, CompositionWarnings,
		Uploads, UploadDuration, UploadCacheLookups, ConnRefreshes,
		ReconcilerUpdates, ReceiptsMerged, EventSubscribers,
		HTTPRequests, HTTPRequestDuration, HTTPRequestsActive,
	}
}

// Register adds the collectors to reg. Collectors already registered with
// reg are left in place.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

func RecordUpload(mediaType, outcome string) {
	Uploads.WithLabelValues(mediaType, outcome).Inc()
}

func ObserveUploadDuration(mediaType string, d time.Duration) {
	UploadDuration.WithLabelValues(mediaType).Observe(d.Seconds())
}

func RecordCacheLookup(backend, result string) {
	UploadCacheLookups.WithLabelValues(backend, result).Inc()
}

func RecordConnRefresh(result string) {
	ConnRefreshes.WithLabelValues(result).Inc()
}

func RecordReconcile(updateType, outcome string) {
	ReconcilerUpdates.WithLabelValues(updateType, outcome).Inc()
}

func RecordReceipt(outcome string) {
	ReceiptsMerged.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest counts a served request and observes its latency
func RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	HTTPRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
