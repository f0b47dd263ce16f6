package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/payroll-engine/audit"
	"github.com/warp/payroll-engine/payroll"
)

// Metrics holds Prometheus metrics for payment operations and auditing.
// Each instance owns its registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Operations   *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	AuditDropped prometheus.Counter
}

// NewMetrics creates a new Metrics instance with payroll metrics registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_operations_total",
			Help: "Total number of payment operations by operation and outcome",
		}, []string{"operation", "outcome"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payroll_operation_failures_total",
			Help: "Total number of failed payment operations by operation and error kind",
		}, []string{"operation", "kind"}),
		AuditDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "payroll_audit_events_dropped_total",
			Help: "Total number of audit events dropped because the dispatcher buffer was full",
		}),
	}
}

// ObserveOperation counts one operation outcome.
func (m *Metrics) ObserveOperation(op string, err error) {
	if err == nil {
		m.Operations.WithLabelValues(op, string(audit.OutcomeSuccess)).Inc()
		return
	}
	m.Operations.WithLabelValues(op, string(audit.OutcomeFailure)).Inc()
	m.Failures.WithLabelValues(op, payroll.ErrorKind(err)).Inc()
}

// IncAuditDropped matches audit.Dispatcher.OnDrop.
func (m *Metrics) IncAuditDropped(audit.Event) {
	m.AuditDropped.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
