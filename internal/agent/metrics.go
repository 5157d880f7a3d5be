package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func tracer() trace.Tracer {
	return otel.Tracer("github.com/haasonsaas/agentkit/internal/agent")
}

var (
	metricModelCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkit",
		Name:      "model_calls_total",
		Help:      "Model invocations by provider, protocol, and outcome.",
	}, []string{"provider", "protocol", "outcome"})

	metricToolRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkit",
		Name:      "tool_runs_total",
		Help:      "Tool executions by tool name and outcome.",
	}, []string{"tool", "outcome"})

	metricRunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentkit",
		Name:      "runs_finished_total",
		Help:      "Completed runs by stop reason class.",
	}, []string{"stop_class"})

	metricToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "agentkit",
		Name:      "tool_run_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})
)

// stopClass collapses parameterized stop reasons ("blocked:...", "error:...")
// to their class for metric labels.
func stopClass(stopReason string) string {
	for i := 0; i < len(stopReason); i++ {
		if stopReason[i] == ':' {
			return stopReason[:i]
		}
	}
	return stopReason
}
