package config

import (
	"sync"

	"github.com/strasdat/vslam/internal/detect"
)

// Store is the live parameter set shared between the reconfiguration path
// and the cycle path. Updates overwrite atomically; the controller reads one
// snapshot at the start of each cycle, so an update arriving mid-cycle only
// affects the next cycle.
type Store struct {
	mu      sync.Mutex
	current TuningConfig
}

// NewStore creates a Store seeded from initial (which may be nil).
func NewStore(initial *TuningConfig) *Store {
	s := &Store{}
	if initial != nil {
		s.current = *initial
	}
	return s
}

// Apply overlays every non-nil field of update onto the live set. The whole
// overlay happens under one lock acquisition, so a concurrent Current never
// observes a torn set. All values are copied; a caller retaining the update
// struct cannot reach the live set through it afterwards.
func (s *Store) Apply(update *TuningConfig) {
	if update == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if update.VORansacIterations != nil {
		v := *update.VORansacIterations
		s.current.VORansacIterations = &v
	}
	if update.VOPolish != nil {
		v := *update.VOPolish
		s.current.VOPolish = &v
	}
	if update.RefineInterval != nil {
		v := *update.RefineInterval
		s.current.RefineInterval = &v
	}
	if update.SyncToleranceMillis != nil {
		v := *update.SyncToleranceMillis
		s.current.SyncToleranceMillis = &v
	}
	if update.Detector != nil {
		s.current.Detector = cloneTuning(update.Detector)
	}
}

// Current returns a value snapshot of the live set. The detector block is
// deep-copied, so mutating the snapshot never reaches the store.
func (s *Store) Current() TuningConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.current
	cfg.Detector = cloneTuning(s.current.Detector)
	return cfg
}

func cloneTuning(t *detect.Tuning) *detect.Tuning {
	if t == nil {
		return nil
	}
	out := &detect.Tuning{}
	if t.Threshold != nil {
		v := *t.Threshold
		out.Threshold = &v
	}
	if t.GridRows != nil {
		v := *t.GridRows
		out.GridRows = &v
	}
	if t.GridCols != nil {
		v := *t.GridCols
		out.GridCols = &v
	}
	if t.MaxFeatures != nil {
		v := *t.MaxFeatures
		out.MaxFeatures = &v
	}
	return out
}
