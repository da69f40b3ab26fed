package slam

import (
	"image"

	"github.com/strasdat/vslam/internal/calib"
	"github.com/strasdat/vslam/internal/msg"
)

// Engine is the incremental SLAM collaborator the pipeline drives. AddFrame
// extends the internal pose-landmark graph and reports whether the frame was
// accepted; Refine runs a full optimization pass over the whole graph.
// Snapshot returns a read-only deep copy for export; mutating it has no
// effect on engine state.
type Engine interface {
	AddFrame(params calib.StereoParams, left, right *image.Gray, cloud msg.PointCloud) bool
	Refine()
	NodeCount() int
	Snapshot() *Graph

	// SetMotionEstimation caps the per-frame motion estimation iterations
	// and toggles the polish refit. Takes effect on the next AddFrame.
	SetMotionEstimation(iterations int, polish bool)

	// FeatureTracks returns the recent pixel trajectories of currently
	// tracked features, oldest first, for the debug overlay.
	FeatureTracks() [][]image.Point
}
