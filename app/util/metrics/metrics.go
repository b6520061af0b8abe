package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

type Metrics struct {
	Registry *prometheus.Registry

	InvokeTotal    *prometheus.CounterVec
	InvokeDuration prometheus.Histogram
	ToolCalls      *prometheus.CounterVec
	AgentSteps     *prometheus.CounterVec
	KnowledgeOps   *prometheus.CounterVec
}

func New(_ *do.Injector) (*Metrics, error) {
	return NewMetrics(), nil
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		InvokeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_invoke_total",
				Help: "Total number of agent invocations",
			},
			[]string{"outcome"},
		),
		InvokeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_invoke_duration_seconds",
				Help:    "Duration of agent invocations",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
		),
		ToolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_tool_calls_total",
				Help: "Total number of tool calls made by the agent",
			},
			[]string{"tool", "outcome"},
		),
		AgentSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_steps_total",
				Help: "Total number of reasoning steps the agent took, by chosen tool",
			},
			[]string{"tool"},
		),
		KnowledgeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kb_operations_total",
				Help: "Total number of knowledge base operations",
			},
			[]string{"op", "outcome"},
		),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.InvokeTotal,
		m.InvokeDuration,
		m.ToolCalls,
		m.AgentSteps,
		m.KnowledgeOps,
	)

	return m
}

func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}
