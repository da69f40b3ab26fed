// Package calib resolves a pair of per-camera calibration messages into the
// unified stereo camera model the engine consumes.
package calib

import (
	"fmt"
	"math"

	"github.com/strasdat/vslam/internal/msg"
)

// StereoParams is the resolved stereo camera model. Intrinsics come from the
// left camera's projection matrix; Baseline is the horizontal separation of
// the two optical centres in metres.
type StereoParams struct {
	Fx       float64
	Fy       float64
	Cx       float64
	Cy       float64
	Baseline float64
}

// Resolve derives StereoParams from the left and right calibration of one
// aligned tuple. It is a pure function of its inputs: fx/fy/cx/cy are read
// from the left projection matrix, and the baseline from the right camera's
// horizontal translation term (P_right[3] = -fx * baseline for a rectified
// horizontal stereo rig).
func Resolve(left, right msg.CameraInfo) (StereoParams, error) {
	p := StereoParams{
		Fx: left.P[0],
		Fy: left.P[5],
		Cx: left.P[2],
		Cy: left.P[6],
	}
	if !finite(p.Fx, p.Fy, p.Cx, p.Cy) {
		return StereoParams{}, fmt.Errorf("left calibration has non-finite intrinsics: fx=%v fy=%v cx=%v cy=%v", p.Fx, p.Fy, p.Cx, p.Cy)
	}
	if p.Fx <= 0 || p.Fy <= 0 {
		return StereoParams{}, fmt.Errorf("left calibration has non-positive focal lengths: fx=%v fy=%v", p.Fx, p.Fy)
	}

	rfx, rtx := right.P[0], right.P[3]
	if !finite(rfx, rtx) || rfx <= 0 {
		return StereoParams{}, fmt.Errorf("right calibration malformed: fx=%v tx=%v", rfx, rtx)
	}
	p.Baseline = -rtx / rfx
	if !finite(p.Baseline) {
		return StereoParams{}, fmt.Errorf("derived baseline is non-finite")
	}
	return p, nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
