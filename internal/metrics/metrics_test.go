package metrics

import "testing"

func TestMetrics(t *testing.T) {
	m := New()

	snap := m.Snapshot()
	if snap.TaskSwitches != 0 {
		t.Errorf("expected 0 initial switches, got %d", snap.TaskSwitches)
	}

	m.RecordSwitch(1_000_000) // 1ms
	m.RecordSwitch(2_000_000) // 2ms
	m.RecordMutexTake(false)
	m.RecordMutexTake(true)

	snap = m.Snapshot()
	if snap.TaskSwitches != 2 {
		t.Errorf("expected 2 switches, got %d", snap.TaskSwitches)
	}
	if snap.MutexTakes != 2 {
		t.Errorf("expected 2 mutex takes, got %d", snap.MutexTakes)
	}
	if snap.MutexTimeouts != 1 {
		t.Errorf("expected 1 mutex timeout, got %d", snap.MutexTimeouts)
	}
}

func TestMetricsReadyDepth(t *testing.T) {
	m := New()

	m.RecordReadyDepth(1)
	m.RecordReadyDepth(4)
	m.RecordReadyDepth(2)

	snap := m.Snapshot()
	if snap.MaxReadyDepth != 4 {
		t.Errorf("expected max ready depth 4, got %d", snap.MaxReadyDepth)
	}

	expectedAvg := float64(1+4+2) / 3.0
	if snap.AvgReadyDepth < expectedAvg-0.01 || snap.AvgReadyDepth > expectedAvg+0.01 {
		t.Errorf("expected avg ready depth %.2f, got %.2f", expectedAvg, snap.AvgReadyDepth)
	}
}

func TestMetricsReset(t *testing.T) {
	m := New()
	m.RecordSwitch(500)
	m.RecordMutexTake(true)

	m.Reset()

	snap := m.Snapshot()
	if snap.TaskSwitches != 0 || snap.MutexTakes != 0 {
		t.Errorf("expected counters cleared after Reset, got %+v", snap)
	}
}

func TestMetricsObserver(t *testing.T) {
	m := New()
	obs := NewMetricsObserver(m)

	var o Observer = obs
	o.ObserveSwitch(1234)
	o.ObserveTick()
	o.ObserveReadyDepth(3)

	snap := m.Snapshot()
	if snap.TaskSwitches != 1 {
		t.Errorf("expected 1 switch via observer, got %d", snap.TaskSwitches)
	}
	if snap.TickCount != 1 {
		t.Errorf("expected 1 tick via observer, got %d", snap.TickCount)
	}
}
