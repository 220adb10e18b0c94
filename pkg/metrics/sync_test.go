package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSyncMetricsExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSyncMetrics(reg)

	m.ObserveRun("ok", 120*time.Millisecond)
	m.ObserveRun("skipped_offline", 0)
	m.IncPush("students", "CREATE", "ok")
	m.IncPush("students", "CREATE", "ok")
	m.IncQuarantined("max_attempts")
	m.SetPending(7)
	m.AddPulled("grades", 3)
	m.AddPulled("grades", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := counterValue(mfs, "sync_runs_total", map[string]string{"result": "ok"}); err != nil || got != 1 {
		t.Fatalf("expected one ok run, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "outbox_push_total", map[string]string{"collection": "students"}); err != nil || got != 2 {
		t.Fatalf("expected two pushes, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "outbox_quarantined_total", map[string]string{"reason": "max_attempts"}); err != nil || got != 1 {
		t.Fatalf("expected one quarantine, got %f (%v)", got, err)
	}
	if got, err := counterValue(mfs, "pull_records_total", map[string]string{"collection": "grades"}); err != nil || got != 3 {
		t.Fatalf("expected three pulled, got %f (%v)", got, err)
	}

	pending := findMetricFamily(mfs, "outbox_pending")
	if pending == nil || pending.GetMetric()[0].GetGauge().GetValue() != 7 {
		t.Fatal("expected outbox_pending gauge of 7")
	}
	duration := findMetricFamily(mfs, "sync_duration_seconds")
	if duration == nil || duration.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatal("expected a single duration sample")
	}
}

func TestSyncMetricsNilSafe(t *testing.T) {
	var m *SyncMetrics
	m.ObserveRun("ok", time.Second)
	m.IncPush("a", "b", "c")
	m.IncQuarantined("x")
	m.SetPending(1)
	m.AddPulled("x", 1)

	empty := NewSyncMetrics(nil)
	empty.ObserveRun("ok", time.Second)
	empty.SetPending(3)
}
