// Package export derives publishable artifacts from a pose-landmark graph
// snapshot: camera and landmark markers, and the colorized point cloud.
package export

import (
	"image"
	"time"

	"github.com/strasdat/vslam/internal/msg"
	"github.com/strasdat/vslam/internal/slam"
)

// GraphFrameID tags every exported artifact with the graph reference frame.
const GraphFrameID = "/pgraph"

// CameraMarker is one camera pose for visualization.
type CameraMarker struct {
	Index    int
	Position [3]float64
	Rotation [9]float64
}

// PointMarker is one landmark position for visualization.
type PointMarker struct {
	Position [3]float64
}

// CameraMarkers is the camera-pose marker message for one cycle.
type CameraMarkers struct {
	Time    time.Time
	FrameID string
	Cameras []CameraMarker
}

// PointMarkers is the landmark marker message for one cycle.
type PointMarkers struct {
	Time    time.Time
	FrameID string
	Points  []PointMarker
}

// Markers derives camera and landmark markers from a graph snapshot.
// Landmarks with fewer than two projections are omitted, matching the
// colorized cloud's constraint rule.
func Markers(g *slam.Graph, stamp time.Time) (CameraMarkers, PointMarkers) {
	cams := CameraMarkers{Time: stamp, FrameID: GraphFrameID}
	for _, n := range g.Nodes {
		cams.Cameras = append(cams.Cameras, CameraMarker{
			Index:    n.Index,
			Position: n.Position,
			Rotation: n.Rotation,
		})
	}
	pts := PointMarkers{Time: stamp, FrameID: GraphFrameID}
	for _, tr := range g.Tracks {
		if len(tr.Projections) < 2 {
			continue
		}
		pts.Points = append(pts.Points, PointMarker{Position: remap(tr.Point)})
	}
	return cams, pts
}

// Colorize converts a graph snapshot into the exportable point cloud.
// Tracks with fewer than two projections are skipped outright (too weakly
// constrained to trust); the remainder appear compacted, in track order,
// with no gap entries for skipped tracks.
//
// Positions are remapped from the engine's frame to the export frame:
// out = (z, -x, -y). The color rule scans the track's valid projections: if
// any carries planar covariance support, the track is colored by the highest
// observing pose index (1 red, 2 green, 3 blue, otherwise neutral gray);
// tracks with no planar support anywhere are pure white.
func Colorize(g *slam.Graph, stamp time.Time) msg.PointCloud {
	cloud := msg.PointCloud{Time: stamp, FrameID: GraphFrameID}
	for _, tr := range g.Tracks {
		if len(tr.Projections) < 2 {
			continue
		}

		pointPlane := false
		lastFrame := 0
		for poseIdx, prj := range tr.Projections {
			if !prj.IsValid {
				continue
			}
			if prj.UseCovar {
				pointPlane = true
			}
			if poseIdx > lastFrame {
				lastFrame = poseIdx
			}
		}

		pos := remap(tr.Point)
		r, gr, b := trackColor(pointPlane, lastFrame)
		cloud.Points = append(cloud.Points, msg.Point{
			X: float32(pos[0]), Y: float32(pos[1]), Z: float32(pos[2]),
			R: r, G: gr, B: b,
		})
	}
	return cloud
}

// Overlay is the debug track-overlay message, paired with the originating
// left calibration as required by downstream camera-image consumers.
type Overlay struct {
	Time        time.Time
	Image       *image.RGBA
	Calibration msg.CameraInfo
}

// remap applies the engine-to-export axis permutation.
func remap(p [3]float64) [3]float64 {
	return [3]float64{p[2], -p[0], -p[1]}
}

func trackColor(pointPlane bool, lastFrame int) (r, g, b uint8) {
	switch {
	case !pointPlane:
		return 255, 255, 255
	case lastFrame == 1:
		return 255, 0, 0
	case lastFrame == 2:
		return 0, 255, 0
	case lastFrame == 3:
		return 0, 0, 255
	default:
		return 150, 150, 150
	}
}
