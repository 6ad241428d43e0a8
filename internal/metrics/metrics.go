// Package metrics defines the Prometheus collectors for workflow runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Keys for mc-manager metrics.
const (
	WorkflowRunsTotalKey      = "mc_manager_workflow_runs_total"
	WorkflowDurationKey       = "mc_manager_workflow_duration_seconds"
	StepFailuresTotalKey      = "mc_manager_workflow_step_failures_total"
	ModsReconciledTotalKey    = "mc_manager_mods_reconciled_total"
	DownloadedBytesTotalKey   = "mc_manager_downloaded_bytes_total"
	ServerTransitionsTotalKey = "mc_manager_server_transitions_total"

	Fail = "fail"
	Ok   = "ok"
	Busy = "busy"
)

// Metrics holds one set of collectors. Each instance owns its collectors so
// tests can register them on a private registry.
type Metrics struct {
	WorkflowRunsTotal      *prometheus.CounterVec
	WorkflowDuration       *prometheus.HistogramVec
	StepFailuresTotal      *prometheus.CounterVec
	ModsReconciledTotal    *prometheus.CounterVec
	DownloadedBytesTotal   prometheus.Counter
	ServerTransitionsTotal *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		WorkflowRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: WorkflowRunsTotalKey,
			Help: "Cumulative number of workflow runs.",
		}, []string{"workflow", "status"}),
		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    WorkflowDurationKey,
			Help:    "Wall time of completed workflow runs.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"workflow", "status"}),
		StepFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: StepFailuresTotalKey,
			Help: "Cumulative number of failed workflow steps.",
		}, []string{"workflow", "step"}),
		ModsReconciledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ModsReconciledTotalKey,
			Help: "Cumulative number of mod files touched by reconciliation.",
		}, []string{"result"}),
		DownloadedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: DownloadedBytesTotalKey,
			Help: "Cumulative number of server pack bytes downloaded.",
		}),
		ServerTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: ServerTransitionsTotalKey,
			Help: "Cumulative number of start, stop and restart requests.",
		}, []string{"action", "status"}),
	}
}

// Collectors lists every collector in m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.WorkflowRunsTotal,
		m.WorkflowDuration,
		m.StepFailuresTotal,
		m.ModsReconciledTotal,
		m.DownloadedBytesTotal,
		m.ServerTransitionsTotal,
	}
}

// Register adds m's collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// ObserveRun records one finished workflow. A nil receiver is a no-op so
// callers may run without metrics.
func (m *Metrics) ObserveRun(workflow, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.WorkflowRunsTotal.WithLabelValues(workflow, status).Inc()
	if status != Busy {
		m.WorkflowDuration.WithLabelValues(workflow, status).Observe(elapsed.Seconds())
	}
}

func (m *Metrics) StepFailed(workflow, step string) {
	if m == nil {
		return
	}
	m.StepFailuresTotal.WithLabelValues(workflow, step).Inc()
}

func (m *Metrics) ModsReconciled(removed, added, failed int) {
	if m == nil {
		return
	}
	m.ModsReconciledTotal.WithLabelValues("removed").Add(float64(removed))
	m.ModsReconciledTotal.WithLabelValues("added").Add(float64(added))
	m.ModsReconciledTotal.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) Downloaded(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DownloadedBytesTotal.Add(float64(n))
}

func (m *Metrics) Transition(action string, ok bool) {
	if m == nil {
		return
	}
	status := Ok
	if !ok {
		status = Fail
	}
	m.ServerTransitionsTotal.WithLabelValues(action, status).Inc()
}
