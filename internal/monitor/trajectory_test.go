package monitor

import (
	"os"
	"testing"
)

func TestObserveIgnoredWhenDisabled(t *testing.T) {
	tp := NewTrajectoryPlotter()
	tp.Observe([3]float64{1, 0, 0})
	if n := tp.SampleCount(); n != 0 {
		t.Errorf("disabled plotter recorded %d samples, want 0", n)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	tp := NewTrajectoryPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !tp.IsEnabled() {
		t.Error("plotter not enabled after Start")
	}

	tp.Observe([3]float64{0, 0, 0})
	tp.Observe([3]float64{0.1, 0, 0.5})
	tp.Stop()
	tp.Observe([3]float64{0.2, 0, 1.0})

	if n := tp.SampleCount(); n != 2 {
		t.Errorf("recorded %d samples, want 2", n)
	}
}

func TestStartClearsPriorRun(t *testing.T) {
	tp := NewTrajectoryPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	tp.Observe([3]float64{1, 2, 3})

	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if n := tp.SampleCount(); n != 0 {
		t.Errorf("second run starts with %d samples, want 0", n)
	}
}

func TestGeneratePlotWritesFile(t *testing.T) {
	tp := NewTrajectoryPlotter()
	dir := t.TempDir()
	if err := tp.Start(dir); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 20; i++ {
		tp.Observe([3]float64{float64(i) * 0.1, 0, float64(i) * 0.5})
	}
	tp.Stop()

	outFile, err := tp.GeneratePlot()
	if err != nil {
		t.Fatalf("GeneratePlot failed: %v", err)
	}

	info, err := os.Stat(outFile)
	if err != nil {
		t.Fatalf("plot file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Error("plot file is empty")
	}
}

func TestGeneratePlotEmptyRun(t *testing.T) {
	tp := NewTrajectoryPlotter()
	if err := tp.Start(t.TempDir()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := tp.GeneratePlot(); err == nil {
		t.Error("GeneratePlot on empty run succeeded, want error")
	}
}
