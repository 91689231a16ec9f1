// Package metrics provides Prometheus metrics for the filmy API.
// Labels are kept to small fixed sets; no video or job ids.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ParseTotal counts parsed instructions by the parser that produced the plan.
	ParseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filmy_instruction_parse_total",
		Help: "Total number of parsed instructions, by source (llm|rule-based).",
	}, []string{"source"})

	// LLMFallbackTotal counts LLM failures that fell back to the rule parser.
	LLMFallbackTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filmy_llm_fallback_total",
		Help: "Total number of LLM parse failures recovered by the rule parser, by reason.",
	}, []string{"reason"}) // reason=request|extract|decode|empty

	// EditTotal counts finished edit pipelines by kind and outcome.
	EditTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filmy_edit_total",
		Help: "Total number of edit pipelines, by kind and outcome.",
	}, []string{"kind", "outcome"}) // outcome=success|error

	// EditDuration tracks wall time of edit pipelines.
	EditDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "filmy_edit_duration_seconds",
		Help:    "Duration of edit pipelines, by kind.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
	}, []string{"kind"})

	// StepSkippedTotal counts editor steps skipped because of bad parameters
	// or per-step failures.
	StepSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filmy_editor_step_skipped_total",
		Help: "Total number of editor steps skipped, by step.",
	}, []string{"step"})

	// ActiveEdits tracks edit pipelines currently holding a slot.
	ActiveEdits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "filmy_active_edits",
		Help: "Current number of running edit pipelines.",
	})

	// UploadBytesTotal counts bytes accepted by the upload endpoint.
	UploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filmy_upload_bytes_total",
		Help: "Total bytes of accepted uploads.",
	})

	// HTTPRequestsTotal counts requests by route pattern and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "filmy_http_requests_total",
		Help: "Total number of HTTP requests, by route and status class.",
	}, []string{"route", "code"})
)

// RecordParse increments the parse counter for source.
func RecordParse(source string) {
	ParseTotal.WithLabelValues(source).Inc()
}

// RecordFallback increments the LLM fallback counter.
func RecordFallback(reason string) {
	LLMFallbackTotal.WithLabelValues(reason).Inc()
}

// RecordEdit records the outcome and duration of one pipeline.
func RecordEdit(kind string, success bool, d time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	EditTotal.WithLabelValues(kind, outcome).Inc()
	EditDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordStepSkipped increments the skip counter for step.
func RecordStepSkipped(step string) {
	StepSkippedTotal.WithLabelValues(step).Inc()
}

// RecordHTTP increments the request counter. code is collapsed to its class.
func RecordHTTP(route string, code int) {
	HTTPRequestsTotal.WithLabelValues(route, statusClass(code)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
