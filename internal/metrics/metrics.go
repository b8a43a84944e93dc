// Package metrics exposes the supervisor's Prometheus instrumentation:
// task lifecycle counters, intervention counts by stage, ledger append
// rate, and scanner matches by rule.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TasksStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_tasks_started_total",
			Help: "Total number of tasks spawned",
		},
	)

	TasksEnded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_tasks_ended_total",
			Help: "Total number of tasks reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	TaskRuntime = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_task_runtime_seconds",
			Help:    "Task wall-clock runtime from spawn to terminal state",
			Buckets: prometheus.DefBuckets,
		},
	)

	InterventionsByStage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_interventions_total",
			Help: "Total number of interventions applied, by escalation stage",
		},
		[]string{"stage"},
	)

	ScannerMatchesByRule = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_scanner_matches_total",
			Help: "Total number of pattern matches, by rule family",
		},
		[]string{"family"},
	)

	LedgerAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "supervisor_ledger_appends_total",
			Help: "Total number of events durably appended to the ledger",
		},
	)

	LedgerAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "supervisor_ledger_append_duration_seconds",
			Help:    "Time taken to durably append a batch of ledger events",
			Buckets: prometheus.DefBuckets,
		},
	)

	OrchestrationsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "supervisor_orchestrations_active",
			Help: "Number of orchestrations currently running",
		},
	)

	UnitsScheduled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "supervisor_orchestration_units_total",
			Help: "Total number of decomposed units scheduled, by final status",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		TasksStarted,
		TasksEnded,
		TaskRuntime,
		InterventionsByStage,
		ScannerMatchesByRule,
		LedgerAppends,
		LedgerAppendDuration,
		OrchestrationsActive,
		UnitsScheduled,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed wall-clock time for a single operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
