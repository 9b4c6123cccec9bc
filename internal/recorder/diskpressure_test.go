package recorder

import (
	"context"
	"testing"
)

func TestClassifyLevels(t *testing.T) {
	t.Parallel()
	cfg := DiskPressureConfig{WarnMB: 100, CriticalMB: 500, HaltMB: 1000}
	cases := []struct {
		sizeMB int64
		want   Level
	}{
		{0, LevelOK},
		{99, LevelOK},
		{100, LevelWarn},
		{499, LevelWarn},
		{500, LevelCritical},
		{999, LevelCritical},
		{1000, LevelHalt},
	}
	for _, c := range cases {
		if got := classify(c.sizeMB, cfg); got != c.want {
			t.Errorf("classify(%d) = %s, want %s", c.sizeMB, got, c.want)
		}
	}
}

func TestMonitorNoTransitionWithThresholdsDisabled(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	wal, err := NewWALWriter(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := NewMonitor(wal, DiskPressureConfig{WarnMB: 0, CriticalMB: 0, HaltMB: 0}, nil, testLogger())

	var transitions []string
	m.OnTransition(func(prev, next Level) {
		transitions = append(transitions, prev.String()+"->"+next.String())
	})

	if err := wal.WriteBatch(context.Background(), TableOrders, []any{OrderRow{OrderID: "O1"}}); err != nil {
		t.Fatal(err)
	}

	// With all thresholds at 0 (disabled), level should stay OK; no transition fires.
	m.sample()
	if len(transitions) != 0 {
		t.Fatalf("expected no transitions with thresholds disabled, got %v", transitions)
	}
}
