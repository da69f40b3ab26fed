package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/strasdat/vslam/internal/detect"
)

func ptrInt(v int) *int             { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrFloat64(v float64) *float64 { return &v }

func TestDefaults(t *testing.T) {
	var c TuningConfig
	if got := c.GetVORansacIterations(); got != 100 {
		t.Errorf("GetVORansacIterations = %d", got)
	}
	if !c.GetVOPolish() {
		t.Error("GetVOPolish default should be true")
	}
	if got := c.GetRefineInterval(); got != 1 {
		t.Errorf("GetRefineInterval = %d", got)
	}
	if got := c.GetSyncTolerance(); got != 100*time.Millisecond {
		t.Errorf("GetSyncTolerance = %v", got)
	}
}

func TestValidate(t *testing.T) {
	bad := []TuningConfig{
		{VORansacIterations: ptrInt(0)},
		{RefineInterval: ptrInt(-1)},
		{SyncToleranceMillis: ptrInt(0)},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	good := TuningConfig{VORansacIterations: ptrInt(50), RefineInterval: ptrInt(5)}
	if err := good.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tuning.json")
	doc := `{
		"vo_ransac_iterations": 250,
		"vo_polish": false,
		"refine_interval": 3,
		"detector": {"threshold": 40, "max_features": 300}
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadTuningConfig(path)
	if err != nil {
		t.Fatalf("LoadTuningConfig: %v", err)
	}
	want := &TuningConfig{
		VORansacIterations: ptrInt(250),
		VOPolish:           ptrBool(false),
		RefineInterval:     ptrInt(3),
		Detector:           &detect.Tuning{Threshold: ptrFloat64(40), MaxFeatures: ptrInt(300)},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTuningConfigRejectsNonJSON(t *testing.T) {
	if _, err := LoadTuningConfig("tuning.yaml"); err == nil {
		t.Error("expected extension error")
	}
	if _, err := LoadTuningConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected stat error")
	}
}

func TestStoreApplyOverlaysNonNilOnly(t *testing.T) {
	store := NewStore(&TuningConfig{VORansacIterations: ptrInt(80), VOPolish: ptrBool(false)})

	store.Apply(&TuningConfig{RefineInterval: ptrInt(4)})
	cur := store.Current()
	if got := cur.GetVORansacIterations(); got != 80 {
		t.Errorf("iterations clobbered: %d", got)
	}
	if cur.GetVOPolish() {
		t.Error("polish clobbered")
	}
	if got := cur.GetRefineInterval(); got != 4 {
		t.Errorf("refine interval = %d", got)
	}
}

func TestStoreApplyCopiesScalarValues(t *testing.T) {
	store := NewStore(nil)

	update := &TuningConfig{
		VORansacIterations: ptrInt(200),
		VOPolish:           ptrBool(false),
		RefineInterval:     ptrInt(3),
	}
	store.Apply(update)

	// Mutating the caller's retained update struct must not reach the
	// live set.
	*update.VORansacIterations = 1
	*update.VOPolish = true
	*update.RefineInterval = 99

	cur := store.Current()
	if got := cur.GetVORansacIterations(); got != 200 {
		t.Errorf("iterations mutated through retained update: %d", got)
	}
	if cur.GetVOPolish() {
		t.Error("polish mutated through retained update")
	}
	if got := cur.GetRefineInterval(); got != 3 {
		t.Errorf("refine interval mutated through retained update: %d", got)
	}
}

func TestStoreCurrentIsSnapshot(t *testing.T) {
	store := NewStore(nil)
	store.Apply(&TuningConfig{Detector: &detect.Tuning{Threshold: ptrFloat64(30)}})

	snap := store.Current()
	*snap.Detector.Threshold = 999

	if got := *store.Current().Detector.Threshold; got != 30 {
		t.Errorf("snapshot aliasing mutated the store: threshold = %v", got)
	}
}
