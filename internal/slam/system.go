package slam

import (
	"fmt"
	"image"
	"math"
	"os"
	"sort"
	"sync"

	"github.com/strasdat/vslam/internal/calib"
	"github.com/strasdat/vslam/internal/detect"
	"github.com/strasdat/vslam/internal/msg"
)

// System defaults. Frames failing any of these gates are rejected so a bad
// frame never extends the graph.
const (
	defaultMinFeatures     = 10
	defaultMinMatches      = 6
	defaultMatchGateM      = 0.5
	defaultInlierTolM      = 0.1
	defaultMinTranslationM = 0.01
	defaultMinRotationRad  = 0.005
	maxTrackHistory        = 8
)

// landmark is a feature observed in the most recent accepted frame, kept for
// frame-to-frame matching.
type landmark struct {
	trackIdx int
	cam      [3]float64
	px       image.Point
}

// System is the built-in incremental stereo SLAM engine. It owns the
// pose-landmark graph; callers read it only through Snapshot.
type System struct {
	mu       sync.Mutex
	detector detect.Detector
	graph    Graph

	prev      []landmark
	histories map[int][]image.Point

	iterations int
	polish     bool

	minFeatures    int
	minMatches     int
	matchGate      float64
	inlierTol      float64
	minTranslation float64
	minRotation    float64
}

// NewSystem creates a System. The three training files feed the
// place-recognition vocabulary and descriptor models; they must exist, and a
// missing file is a startup error.
func NewSystem(vocabTreeFile, vocabWeightsFile, descriptorTrainingFile string, det detect.Detector) (*System, error) {
	for _, path := range []string{vocabTreeFile, vocabWeightsFile, descriptorTrainingFile} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("training file %q: %w", path, err)
		}
	}
	if det == nil {
		det = detect.NewAnyDetector(detect.VariantGridAdapted)
	}
	return &System{
		detector:       det,
		histories:      make(map[int][]image.Point),
		iterations:     100,
		polish:         true,
		minFeatures:    defaultMinFeatures,
		minMatches:     defaultMinMatches,
		matchGate:      defaultMatchGateM,
		inlierTol:      defaultInlierTolM,
		minTranslation: defaultMinTranslationM,
		minRotation:    defaultMinRotationRad,
	}, nil
}

// SetMotionEstimation implements Engine.
func (s *System) SetMotionEstimation(iterations int, polish bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if iterations > 0 {
		s.iterations = iterations
	}
	s.polish = polish
}

// NodeCount implements Engine.
func (s *System) NodeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.graph.Nodes)
}

// Snapshot implements Engine.
func (s *System) Snapshot() *Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.graph.Clone()
}

// FeatureTracks implements Engine.
func (s *System) FeatureTracks() [][]image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	idxs := make([]int, 0, len(s.histories))
	for idx := range s.histories {
		idxs = append(idxs, idx)
	}
	sort.Ints(idxs)
	out := make([][]image.Point, 0, len(idxs))
	for _, idx := range idxs {
		h := s.histories[idx]
		cp := make([]image.Point, len(h))
		copy(cp, h)
		out = append(out, cp)
	}
	return out
}

// observation is a detected feature bound to a textured cloud point.
type observation struct {
	cam      [3]float64
	px       image.Point
	useCovar bool
}

// AddFrame implements Engine. Returns false when the frame is rejected:
// too few features, too few frame-to-frame matches, a degenerate motion fit,
// or insufficient motion since the last accepted frame.
func (s *System) AddFrame(params calib.StereoParams, left, right *image.Gray, cloud msg.PointCloud) bool {
	feats := s.detector.Detect(left)
	if len(feats) < s.minFeatures {
		return false
	}

	obs := bindFeatures(params, left.Bounds(), feats, cloud)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.graph.Nodes) == 0 {
		if len(obs) < s.minMatches {
			return false
		}
		s.initGraph(obs)
		return true
	}
	if len(obs) < s.minMatches {
		return false
	}

	pairs, src, dst := s.matchPrev(obs)
	if len(pairs) < s.minMatches {
		return false
	}

	motion, inliers, ok := ransacRigid(src, dst, s.iterations, s.inlierTol, s.polish)
	if !ok || len(inliers) < s.minMatches {
		return false
	}
	if !s.sufficientMotion(motion) {
		return false
	}

	s.extendGraph(obs, pairs, motion, inliers)
	return true
}

// Refine implements Engine: a full pass over every track with at least two
// valid projections, re-triangulating the landmark as the mean of its
// pose-transformed measurements.
func (s *System) Refine() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.graph.Tracks {
		tr := &s.graph.Tracks[i]
		var sum [3]float64
		count := 0
		for poseIdx, prj := range tr.Projections {
			if !prj.IsValid || poseIdx >= len(s.graph.Nodes) {
				continue
			}
			w := nodeToWorld(s.graph.Nodes[poseIdx], [3]float64{prj.MX, prj.MY, prj.MZ})
			for k := 0; k < 3; k++ {
				sum[k] += w[k]
			}
			count++
		}
		if count >= 2 {
			for k := 0; k < 3; k++ {
				tr.Point[k] = sum[k] / float64(count)
			}
		}
	}
}

// initGraph seeds the graph with the first pose at the origin.
func (s *System) initGraph(obs []observation) {
	s.graph.Nodes = append(s.graph.Nodes, Node{Index: 0, Rotation: identityRotation()})
	s.prev = s.prev[:0]
	for _, o := range obs {
		trackIdx := len(s.graph.Tracks)
		s.graph.Tracks = append(s.graph.Tracks, Track{
			Point: o.cam,
			Projections: map[int]Projection{0: {
				U: float64(o.px.X), V: float64(o.px.Y),
				MX: o.cam[0], MY: o.cam[1], MZ: o.cam[2],
				IsValid: true, UseCovar: o.useCovar,
			}},
		})
		s.prev = append(s.prev, landmark{trackIdx: trackIdx, cam: o.cam, px: o.px})
		s.histories[trackIdx] = []image.Point{o.px}
	}
}

// matchPair links one current observation to one previous-frame landmark.
type matchPair struct {
	obsIdx int
	prevI  int
}

// matchPrev greedily pairs current observations with previous-frame
// landmarks by nearest 3-D distance inside the match gate. src/dst hold the
// previous and current camera-frame positions in pair order.
func (s *System) matchPrev(obs []observation) (pairs []matchPair, src, dst [][3]float64) {
	type cand struct {
		obsIdx, prevI int
		d2            float64
	}
	gate2 := s.matchGate * s.matchGate
	var cands []cand
	for oi, o := range obs {
		for pi, lm := range s.prev {
			d2 := sq(o.cam[0]-lm.cam[0]) + sq(o.cam[1]-lm.cam[1]) + sq(o.cam[2]-lm.cam[2])
			if d2 <= gate2 {
				cands = append(cands, cand{obsIdx: oi, prevI: pi, d2: d2})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].d2 < cands[j].d2 })

	usedObs := make(map[int]bool)
	usedPrev := make(map[int]bool)
	for _, c := range cands {
		if usedObs[c.obsIdx] || usedPrev[c.prevI] {
			continue
		}
		usedObs[c.obsIdx] = true
		usedPrev[c.prevI] = true
		pairs = append(pairs, matchPair{obsIdx: c.obsIdx, prevI: c.prevI})
		src = append(src, s.prev[c.prevI].cam)
		dst = append(dst, obs[c.obsIdx].cam)
	}
	return pairs, src, dst
}

// sufficientMotion rejects frames whose estimated motion is below the
// keyframe thresholds.
func (s *System) sufficientMotion(rt rigidTransform) bool {
	trans := math.Sqrt(sq(rt.T[0]) + sq(rt.T[1]) + sq(rt.T[2]))
	trace := rt.R[0] + rt.R[4] + rt.R[8]
	c := (trace - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	angle := math.Acos(c)
	return trans >= s.minTranslation || angle >= s.minRotation
}

// extendGraph appends the new pose and updates tracks from the matched
// inlier set. Outlier matches are discarded; unmatched observations seed new
// tracks.
func (s *System) extendGraph(obs []observation, pairs []matchPair, motion rigidTransform, inliers []int) {
	last := s.graph.Nodes[len(s.graph.Nodes)-1]
	node := composePose(last, motion)
	node.Index = len(s.graph.Nodes)
	s.graph.Nodes = append(s.graph.Nodes, node)

	prevIdx := make(map[int]int, len(pairs))
	for _, p := range pairs {
		prevIdx[p.obsIdx] = p.prevI
	}
	inlierObs := make(map[int]bool, len(inliers))
	for _, idx := range inliers {
		if idx < len(pairs) {
			inlierObs[pairs[idx].obsIdx] = true
		}
	}

	newPrev := make([]landmark, 0, len(obs))
	newHistories := make(map[int][]image.Point)
	for oi, o := range obs {
		pi, matched := prevIdx[oi]
		var trackIdx int
		switch {
		case matched && inlierObs[oi]:
			trackIdx = s.prev[pi].trackIdx
			s.graph.Tracks[trackIdx].Projections[node.Index] = Projection{
				U: float64(o.px.X), V: float64(o.px.Y),
				MX: o.cam[0], MY: o.cam[1], MZ: o.cam[2],
				IsValid: true, UseCovar: o.useCovar,
			}
		case matched:
			// RANSAC outlier: drop the observation entirely.
			continue
		default:
			trackIdx = len(s.graph.Tracks)
			s.graph.Tracks = append(s.graph.Tracks, Track{
				Point: nodeToWorld(node, o.cam),
				Projections: map[int]Projection{node.Index: {
					U: float64(o.px.X), V: float64(o.px.Y),
					MX: o.cam[0], MY: o.cam[1], MZ: o.cam[2],
					IsValid: true, UseCovar: o.useCovar,
				}},
			})
		}
		newPrev = append(newPrev, landmark{trackIdx: trackIdx, cam: o.cam, px: o.px})
		h := append(s.histories[trackIdx], o.px)
		if len(h) > maxTrackHistory {
			h = h[len(h)-maxTrackHistory:]
		}
		newHistories[trackIdx] = h
	}
	s.prev = newPrev
	s.histories = newHistories
}

// composePose chains the previous world pose with the estimated camera
// motion (x_cur = R*x_prev + t in camera coordinates).
func composePose(prev Node, rt rigidTransform) Node {
	// R_world_cur = R_world_prev * R^T
	var rw [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			var v float64
			for k := 0; k < 3; k++ {
				v += prev.Rotation[r*3+k] * rt.R[c*3+k]
			}
			rw[r*3+c] = v
		}
	}
	var pos [3]float64
	for r := 0; r < 3; r++ {
		pos[r] = prev.Position[r] - (rw[r*3]*rt.T[0] + rw[r*3+1]*rt.T[1] + rw[r*3+2]*rt.T[2])
	}
	return Node{Position: pos, Rotation: rw}
}

// nodeToWorld transforms a camera-frame measurement into world coordinates.
func nodeToWorld(n Node, p [3]float64) [3]float64 {
	return [3]float64{
		n.Rotation[0]*p[0] + n.Rotation[1]*p[1] + n.Rotation[2]*p[2] + n.Position[0],
		n.Rotation[3]*p[0] + n.Rotation[4]*p[1] + n.Rotation[5]*p[2] + n.Position[1],
		n.Rotation[6]*p[0] + n.Rotation[7]*p[1] + n.Rotation[8]*p[2] + n.Position[2],
	}
}

// bindFeatures associates detected features with textured cloud points by
// projecting each cloud point into the left image. A direct pixel hit keeps
// the cloud point's planar support (UseCovar); a near miss within the search
// window binds without it.
func bindFeatures(params calib.StereoParams, bounds image.Rectangle, feats []detect.Feature, cloud msg.PointCloud) []observation {
	grid := make(map[image.Point]gridCell, len(cloud.Points))
	for i, p := range cloud.Points {
		if p.Z <= 0 {
			continue
		}
		u := int(math.Round(params.Fx*float64(p.X)/float64(p.Z) + params.Cx))
		v := int(math.Round(params.Fy*float64(p.Y)/float64(p.Z) + params.Cy))
		pt := image.Point{X: u, Y: v}
		if !pt.In(bounds) {
			continue
		}
		if cur, ok := grid[pt]; !ok || p.Z < cur.z {
			grid[pt] = gridCell{idx: i, z: p.Z}
		}
	}

	var obs []observation
	for _, f := range feats {
		if c, ok := grid[image.Point{X: f.X, Y: f.Y}]; ok {
			p := cloud.Points[c.idx]
			obs = append(obs, observation{
				cam:      [3]float64{float64(p.X), float64(p.Y), float64(p.Z)},
				px:       image.Point{X: f.X, Y: f.Y},
				useCovar: true,
			})
			continue
		}
		if c, ok := nearestInWindow(grid, f.X, f.Y, 2); ok {
			p := cloud.Points[c]
			obs = append(obs, observation{
				cam:      [3]float64{float64(p.X), float64(p.Y), float64(p.Z)},
				px:       image.Point{X: f.X, Y: f.Y},
				useCovar: false,
			})
		}
	}
	return obs
}

// gridCell holds the nearest-depth cloud point projected into one pixel.
type gridCell struct {
	idx int
	z   float32
}

// nearestInWindow searches an expanding ring around (x,y) for a projected
// cloud point, nearest ring first.
func nearestInWindow(grid map[image.Point]gridCell, x, y, radius int) (int, bool) {
	for r := 1; r <= radius; r++ {
		for dy := -r; dy <= r; dy++ {
			for dx := -r; dx <= r; dx++ {
				if abs(dx) != r && abs(dy) != r {
					continue
				}
				if c, ok := grid[image.Point{X: x + dx, Y: y + dy}]; ok {
					return c.idx, true
				}
			}
		}
	}
	return 0, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
