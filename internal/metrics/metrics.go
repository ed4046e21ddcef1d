// Package metrics holds the gateway's process-wide Prometheus counters and
// histograms: package-level collectors, lock-free on the hot path,
// registered once at package init time so the /metrics endpoint is useful
// whether or not the caller remembers to wire anything up.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// latencyBucketsUS spans 100us to 1s.
var latencyBucketsUS = []float64{
	100, 200, 500, 1000, 2000, 5000, 10000, 20000, 50000,
	100000, 200000, 500000, 1000000,
}

var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "requests_total",
		Help: "Total chat-completion requests accepted by the gateway.",
	})

	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "decisions_total",
		Help: "Guardrail decisions made per phase and action.",
	}, []string{"phase", "action"})

	policiesTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "policies_triggered_total",
		Help: "Policy rule matches per phase.",
	}, []string{"phase"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Errors encountered per kind.",
	}, []string{"kind"})

	pipelineLatencyUS = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_latency_us",
		Help:    "Classifier pipeline execution latency in microseconds, per phase.",
		Buckets: latencyBucketsUS,
	}, []string{"phase"})
)

func init() {
	prometheus.MustRegister(requestsTotal, decisionsTotal, policiesTriggeredTotal, errorsTotal, pipelineLatencyUS)
}

// RequestReceived increments requests_total. Call once per inbound request.
func RequestReceived() { requestsTotal.Inc() }

// Decision increments decisions_total{phase,action}, e.g. phase="ingress",
// action="stop"|"forward"|"redact".
func Decision(phase, action string) { decisionsTotal.WithLabelValues(phase, action).Inc() }

// PolicyTriggered increments policies_triggered_total{phase}.
func PolicyTriggered(phase string) { policiesTriggeredTotal.WithLabelValues(phase).Inc() }

// Error increments errors_total{kind}; kind names the failure class
// (e.g. "midstream_classifier", "audit", "timeout").
func Error(kind string) { errorsTotal.WithLabelValues(kind).Inc() }

// ObservePipelineLatency records a pipeline execution's latency in
// microseconds for the given phase.
func ObservePipelineLatency(phase string, latencyUS uint64) {
	pipelineLatencyUS.WithLabelValues(phase).Observe(float64(latencyUS))
}

// Handler returns the Prometheus text-format scrape handler for GET /metrics.
func Handler() http.Handler { return promhttp.Handler() }
