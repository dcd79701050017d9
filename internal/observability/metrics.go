// Package observability defines the service's Prometheus collectors.
package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhookRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vidstab_webhook_requests_total", Help: "Inbound webhook requests by kind"},
		[]string{"kind"},
	)
	Outcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vidstab_pipeline_outcomes_total", Help: "Terminal pipeline outcomes"},
		[]string{"outcome"},
	)
	MediaFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vidstab_media_failures_total", Help: "Media pipeline failures by stage"},
		[]string{"stage"},
	)
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vidstab_job_duration_seconds",
			Help:    "Download, stabilize and upload duration",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vidstab_send_total", Help: "Send API outcomes"},
		[]string{"kind", "result"},
	)
	SendLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "vidstab_send_latency_seconds", Help: "Send API latency"},
		[]string{"kind"},
	)
	DedupChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vidstab_dedup_checks_total", Help: "Idempotency guard decisions"},
		[]string{"result"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(WebhookRequests, Outcomes, MediaFailures, JobDuration, Sends, SendLatency, DedupChecks)
}
