// Package slam defines the pose-landmark graph model, the engine contract
// consumed by the pipeline controller, and a built-in incremental engine.
package slam

// Projection is one observation of a landmark track from one camera pose.
// MX/MY/MZ hold the camera-frame measurement used by refinement. UseCovar is
// set when the observation carried planar support from the textured cloud.
type Projection struct {
	U, V       float64
	MX, MY, MZ float64
	IsValid    bool
	UseCovar   bool
}

// Track is a 3-D landmark with its per-pose projections, keyed by pose index.
type Track struct {
	Point       [3]float64
	Projections map[int]Projection
}

// Node is one camera pose: position and row-major rotation, world frame.
type Node struct {
	Index    int
	Position [3]float64
	Rotation [9]float64
}

// Graph is the pose-landmark graph. It grows monotonically: nodes and tracks
// are appended, never removed.
type Graph struct {
	Nodes  []Node
	Tracks []Track
}

// Clone returns a deep copy. Snapshots handed to exporters go through Clone
// so no caller can mutate engine state.
func (g *Graph) Clone() *Graph {
	out := &Graph{
		Nodes:  make([]Node, len(g.Nodes)),
		Tracks: make([]Track, len(g.Tracks)),
	}
	copy(out.Nodes, g.Nodes)
	for i, tr := range g.Tracks {
		ct := Track{Point: tr.Point, Projections: make(map[int]Projection, len(tr.Projections))}
		for k, v := range tr.Projections {
			ct.Projections[k] = v
		}
		out.Tracks[i] = ct
	}
	return out
}

// identityRotation is the row-major identity, used for the first pose.
func identityRotation() [9]float64 {
	return [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}
}
