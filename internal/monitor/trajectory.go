// Package monitor produces offline visual diagnostics for a pipeline run.
package monitor

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// TrajectoryPlotter accumulates camera positions over a run and renders the
// estimated path as a top-down X/Z plot. It satisfies the pipeline's
// trajectory observer.
type TrajectoryPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	positions [][3]float64
}

// NewTrajectoryPlotter creates a disabled plotter. Call Start to begin
// recording.
func NewTrajectoryPlotter() *TrajectoryPlotter {
	return &TrajectoryPlotter{}
}

// Start clears any prior run and begins recording into outputDir.
func (tp *TrajectoryPlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tp.outputDir = outputDir
	tp.enabled = true
	tp.positions = nil
	return nil
}

// Stop disables recording. Call GeneratePlot() to produce the output file.
func (tp *TrajectoryPlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TrajectoryPlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// Observe appends the newest camera position. Call once per accepted frame.
func (tp *TrajectoryPlotter) Observe(position [3]float64) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.enabled {
		return
	}
	tp.positions = append(tp.positions, position)
}

// SampleCount returns the number of recorded positions.
func (tp *TrajectoryPlotter) SampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.positions)
}

// GeneratePlot renders the recorded path to trajectory.png in the output
// directory and returns the file path.
func (tp *TrajectoryPlotter) GeneratePlot() (string, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if len(tp.positions) == 0 {
		return "", fmt.Errorf("no positions recorded")
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Estimated Trajectory (%d frames)", len(tp.positions))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Z (m)"

	pts := make(plotter.XYs, 0, len(tp.positions))
	for _, pos := range tp.positions {
		// Top-down view: forward motion on the vertical axis.
		pts = append(pts, plotter.XY{X: pos[0], Y: pos[2]})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return "", fmt.Errorf("failed to create trajectory line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)

	outFile := filepath.Join(tp.outputDir, "trajectory.png")
	if err := p.Save(8*vg.Inch, 8*vg.Inch, outFile); err != nil {
		return "", fmt.Errorf("failed to save trajectory plot: %w", err)
	}
	return outFile, nil
}
