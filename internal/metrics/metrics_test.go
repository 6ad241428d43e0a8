package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue sums every sample of the named counter family whose labels
// include all of want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestObserveRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	m.ObserveRun("backup", Ok, time.Second)
	m.ObserveRun("backup", Ok, 2*time.Second)
	m.ObserveRun("update-pack", Busy, 0)
	m.StepFailed("update-pack", "stop")
	m.ModsReconciled(2, 1, 0)
	m.Downloaded(4096)
	m.Transition("start", false)

	if got := counterValue(t, reg, WorkflowRunsTotalKey, map[string]string{"workflow": "backup", "status": Ok}); got != 2 {
		t.Fatalf("backup runs=%v want=2", got)
	}
	if got := counterValue(t, reg, WorkflowRunsTotalKey, map[string]string{"status": Busy}); got != 1 {
		t.Fatalf("busy runs=%v want=1", got)
	}
	if got := counterValue(t, reg, StepFailuresTotalKey, map[string]string{"step": "stop"}); got != 1 {
		t.Fatalf("step failures=%v want=1", got)
	}
	if got := counterValue(t, reg, ModsReconciledTotalKey, map[string]string{"result": "removed"}); got != 2 {
		t.Fatalf("removed=%v want=2", got)
	}
	if got := counterValue(t, reg, DownloadedBytesTotalKey, nil); got != 4096 {
		t.Fatalf("downloaded=%v want=4096", got)
	}
	if got := counterValue(t, reg, ServerTransitionsTotalKey, map[string]string{"action": "start", "status": Fail}); got != 1 {
		t.Fatalf("transitions=%v want=1", got)
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := New().Register(reg); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := New().Register(reg); err == nil {
		t.Fatalf("registering duplicate collectors should fail")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRun("backup", Ok, time.Second)
	m.StepFailed("backup", "wipe")
	m.ModsReconciled(1, 1, 1)
	m.Downloaded(1)
	m.Transition("stop", true)
}
