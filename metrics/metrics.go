// Package metrics exposes Prometheus instrumentation for the execution
// core: model calls, tool executions, rate-limit waits, and pipeline file
// outcomes. Collectors register on the default registry; hosts decide
// whether to serve them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_llm_requests_total",
		Help: "Model calls by provider, model, and outcome.",
	}, []string{"provider", "model", "outcome"})

	llmDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_llm_request_duration_seconds",
		Help:    "Model call latency.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider", "model"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_llm_tokens_total",
		Help: "Token usage by provider, model, and direction.",
	}, []string{"provider", "model", "direction"})

	rateLimitWaits = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_rate_limit_wait_seconds",
		Help:    "Time spent waiting for rate-limit admission.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"limiter"})

	toolExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_tool_executions_total",
		Help: "Tool invocations by tool name and outcome.",
	}, []string{"tool", "outcome"})

	toolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forge_tool_duration_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"tool"})

	pipelineFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forge_pipeline_files_total",
		Help: "Files processed by the generation pipelines, by outcome.",
	}, []string{"pipeline", "outcome"})
)

// ObserveLLM records one model call.
func ObserveLLM(provider, model, outcome string, d time.Duration, promptTokens, completionTokens int) {
	llmRequests.WithLabelValues(provider, model, outcome).Inc()
	llmDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if promptTokens > 0 {
		llmTokens.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		llmTokens.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// ObserveRateLimitWait records time spent blocked on the rate limiter.
func ObserveRateLimitWait(limiter string, d time.Duration) {
	rateLimitWaits.WithLabelValues(limiter).Observe(d.Seconds())
}

// ObserveTool records one tool invocation.
func ObserveTool(tool, outcome string, d time.Duration) {
	toolExecutions.WithLabelValues(tool, outcome).Inc()
	toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObservePipelineFile records one per-file pipeline outcome.
func ObservePipelineFile(pipeline, outcome string) {
	pipelineFiles.WithLabelValues(pipeline, outcome).Inc()
}
