package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across both API surfaces.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "kafkaops",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// ProvisioningOperationsTotal counts orchestrator lifecycle transitions by outcome.
var ProvisioningOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kafkaops",
		Subsystem: "orchestrator",
		Name:      "operations_total",
		Help:      "Total provisioning/deprovisioning operations by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// AdminPoolConnections reports the current number of pooled admin client entries.
var AdminPoolConnections = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "kafkaops",
		Subsystem: "adminpool",
		Name:      "connections",
		Help:      "Current number of pooled Kafka admin connections.",
	},
)

// AdminPoolEvictionsTotal counts pool entries evicted by reason.
var AdminPoolEvictionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kafkaops",
		Subsystem: "adminpool",
		Name:      "evictions_total",
		Help:      "Total admin pool entries evicted by reason (unhealthy, idle, capacity).",
	},
	[]string{"reason"},
)

// CircuitBreakerState reports the current state of each named circuit breaker
// (0=closed, 1=half_open, 2=open).
var CircuitBreakerState = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "kafkaops",
		Subsystem: "resilience",
		Name:      "circuit_breaker_state",
		Help:      "Current circuit breaker state per named resource.",
	},
	[]string{"name"},
)

// SchedulerExecutionsTotal counts scheduled task executions by task type and status.
var SchedulerExecutionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kafkaops",
		Subsystem: "scheduler",
		Name:      "executions_total",
		Help:      "Total scheduled task executions by task type and terminal status.",
	},
	[]string{"task_type", "status"},
)

// TopicOperationsTotal counts topic management operations by verb and outcome.
var TopicOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "kafkaops",
		Subsystem: "topics",
		Name:      "operations_total",
		Help:      "Total topic management operations by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// All returns every agent-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		ProvisioningOperationsTotal,
		AdminPoolConnections,
		AdminPoolEvictionsTotal,
		CircuitBreakerState,
		SchedulerExecutionsTotal,
		TopicOperationsTotal,
	}
}

// NewRegistry creates a Prometheus registry with Go/process collectors, the
// shared HTTP latency histogram, and any additional collectors.
func NewRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
