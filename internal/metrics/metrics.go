// Package metrics описывает метрики Prometheus ядра студии.
// Все методы безопасны для nil-получателя, поэтому сервисы можно собирать без метрик.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics набор счётчиков и гистограмм.
type Metrics struct {
	LedgerOperations  *prometheus.CounterVec
	LedgerConflicts   prometheus.Counter
	StatusTransitions *prometheus.CounterVec
	Bookings          *prometheus.CounterVec
	Dispatches        *prometheus.CounterVec
	RetriesExhausted  prometheus.Counter
	SweepRuns         *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
}

// New создаёт метрики и регистрирует их в reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Subscription ledger operations by name and result.",
		}, []string{"operation", "result"}),
		LedgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "conflicts_total",
			Help:      "Optimistic lock conflicts retried by the ledger.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "ledger",
			Name:      "status_transitions_total",
			Help:      "Subscription status transitions by target status.",
		}, []string{"status"}),
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking operations by name and result.",
		}, []string{"operation", "result"}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "notifications",
			Name:      "dispatched_total",
			Help:      "Notification dispatch attempts by channel and result.",
		}, []string{"channel", "result"}),
		RetriesExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "notifications",
			Name:      "retries_exhausted_total",
			Help:      "Notifications that failed after the last allowed retry.",
		}),
		SweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studio",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Periodic task runs by task and result.",
		}, []string{"task", "result"}),
		SweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "studio",
			Subsystem: "scheduler",
			Name:      "run_duration_seconds",
			Help:      "Periodic task run duration.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"task"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.LedgerOperations, m.LedgerConflicts, m.StatusTransitions, m.Bookings,
			m.Dispatches, m.RetriesExhausted, m.SweepRuns, m.SweepDuration,
		)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// LedgerOp учитывает операцию над абонементом.
func (m *Metrics) LedgerOp(operation string, err error) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(operation, result(err)).Inc()
}

// LedgerConflict учитывает повтор после конфликта версий.
func (m *Metrics) LedgerConflict() {
	if m == nil {
		return
	}
	m.LedgerConflicts.Inc()
}

// StatusTransition учитывает переход абонемента в статус.
func (m *Metrics) StatusTransition(status string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(status).Inc()
}

// BookingOp учитывает операцию над записью.
func (m *Metrics) BookingOp(operation string, err error) {
	if m == nil {
		return
	}
	m.Bookings.WithLabelValues(operation, result(err)).Inc()
}

// Dispatch учитывает попытку отправки уведомления.
func (m *Metrics) Dispatch(channel string, err error) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(channel, result(err)).Inc()
}

// RetryExhausted учитывает уведомление, у которого кончились попытки.
func (m *Metrics) RetryExhausted() {
	if m == nil {
		return
	}
	m.RetriesExhausted.Inc()
}

// SweepRun учитывает запуск периодической задачи.
func (m *Metrics) SweepRun(task string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.SweepRuns.WithLabelValues(task, result(err)).Inc()
	m.SweepDuration.WithLabelValues(task).Observe(seconds)
}
