// Package config holds the pipeline's reconfigurable parameter set. The
// JSON schema is shared between the startup tuning file and the runtime
// /api/vslam/params endpoint, so one document drives both.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/strasdat/vslam/internal/detect"
)

// TuningConfig is the root tuning document. All fields are optional
// pointers; fields omitted from JSON leave the current values untouched, so
// partial updates are safe.
type TuningConfig struct {
	// Motion estimation params
	VORansacIterations *int  `json:"vo_ransac_iterations,omitempty"`
	VOPolish           *bool `json:"vo_polish,omitempty"`

	// Graph refinement params
	RefineInterval *int `json:"refine_interval,omitempty"`

	// Synchronizer params
	SyncToleranceMillis *int `json:"sync_tolerance_millis,omitempty"`

	// Detector params, forwarded to the active detector variant
	Detector *detect.Tuning `json:"detector,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must
// carry a .json extension and stay under the max file size.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks structural sanity. Out-of-range engine values are the
// engine's responsibility to reject or clamp; only fields this package
// interprets itself are range-checked here.
func (c *TuningConfig) Validate() error {
	if c.VORansacIterations != nil && *c.VORansacIterations < 1 {
		return fmt.Errorf("vo_ransac_iterations must be positive, got %d", *c.VORansacIterations)
	}
	if c.RefineInterval != nil && *c.RefineInterval < 1 {
		return fmt.Errorf("refine_interval must be positive, got %d", *c.RefineInterval)
	}
	if c.SyncToleranceMillis != nil && *c.SyncToleranceMillis < 1 {
		return fmt.Errorf("sync_tolerance_millis must be positive, got %d", *c.SyncToleranceMillis)
	}
	return nil
}

// GetVORansacIterations returns the iteration cap or the default.
func (c *TuningConfig) GetVORansacIterations() int {
	if c.VORansacIterations == nil {
		return 100
	}
	return *c.VORansacIterations
}

// GetVOPolish returns the polish flag or the default.
func (c *TuningConfig) GetVOPolish() bool {
	if c.VOPolish == nil {
		return true
	}
	return *c.VOPolish
}

// GetRefineInterval returns the full-refinement interval or the default.
// Interval 1 refines after every accepted frame.
func (c *TuningConfig) GetRefineInterval() int {
	if c.RefineInterval == nil {
		return 1
	}
	return *c.RefineInterval
}

// GetSyncTolerance returns the synchronizer skew tolerance or the default.
func (c *TuningConfig) GetSyncTolerance() time.Duration {
	if c.SyncToleranceMillis == nil {
		return 100 * time.Millisecond
	}
	return time.Duration(*c.SyncToleranceMillis) * time.Millisecond
}

// GetDetector returns the detector tuning block, which may be empty.
func (c *TuningConfig) GetDetector() detect.Tuning {
	if c.Detector == nil {
		return detect.Tuning{}
	}
	return *c.Detector
}
