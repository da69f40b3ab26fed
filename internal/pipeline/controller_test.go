package pipeline

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/strasdat/vslam/internal/bus"
	"github.com/strasdat/vslam/internal/calib"
	"github.com/strasdat/vslam/internal/config"
	"github.com/strasdat/vslam/internal/detect"
	"github.com/strasdat/vslam/internal/export"
	"github.com/strasdat/vslam/internal/msg"
	"github.com/strasdat/vslam/internal/slam"
	"github.com/strasdat/vslam/internal/stream"
)

type fakeEngine struct {
	accept     bool
	nodes      int
	addCalls   int
	refines    int
	iterations int
	polish     bool
	graph      *slam.Graph
	tracks     [][]image.Point
}

func (f *fakeEngine) AddFrame(params calib.StereoParams, left, right *image.Gray, cloud msg.PointCloud) bool {
	f.addCalls++
	if f.accept {
		f.nodes++
	}
	return f.accept
}

func (f *fakeEngine) Refine()        { f.refines++ }
func (f *fakeEngine) NodeCount() int { return f.nodes }

func (f *fakeEngine) Snapshot() *slam.Graph {
	if f.graph != nil {
		return f.graph.Clone()
	}
	g := &slam.Graph{}
	for i := 0; i < f.nodes; i++ {
		g.Nodes = append(g.Nodes, slam.Node{Index: i, Position: [3]float64{float64(i), 0, 0}})
	}
	return g
}

func (f *fakeEngine) SetMotionEstimation(iterations int, polish bool) {
	f.iterations = iterations
	f.polish = polish
}

func (f *fakeEngine) FeatureTracks() [][]image.Point { return f.tracks }

type fakeTuner struct {
	applied []detect.Tuning
}

func (f *fakeTuner) ApplyTuning(t detect.Tuning) { f.applied = append(f.applied, t) }

type fakeRecorder struct {
	records []CycleRecord
}

func (f *fakeRecorder) RecordCycle(rec CycleRecord) error {
	f.records = append(f.records, rec)
	return nil
}

func rawImage(stamp time.Time) msg.Image {
	return msg.Image{
		Time:     stamp,
		FrameID:  "stereo_left",
		Width:    4,
		Height:   4,
		Encoding: msg.EncodingMono8,
		Step:     4,
		Data:     make([]byte, 16),
	}
}

func stereoInfo() (msg.CameraInfo, msg.CameraInfo) {
	left := msg.CameraInfo{Width: 4, Height: 4}
	left.P = [12]float64{500, 0, 2, 0, 0, 500, 2, 0, 0, 0, 1, 0}
	right := left
	right.P[3] = -500 * 0.12
	return left, right
}

func testTuple(stamp time.Time) stream.Tuple {
	left, right := stereoInfo()
	return stream.Tuple{
		LeftImage:  rawImage(stamp),
		LeftInfo:   left,
		RightImage: rawImage(stamp),
		RightInfo:  right,
		Cloud:      msg.PointCloud{Time: stamp},
	}
}

func TestCycleAccepted(t *testing.T) {
	eng := &fakeEngine{accept: true}
	ctrl := New(eng, config.NewStore(nil), bus.New())

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))

	require.Equal(t, 1, eng.addCalls)
	stats := ctrl.Stats()
	require.Equal(t, uint64(1), stats.Cycles)
	require.Equal(t, uint64(1), stats.Accepted)
	require.Equal(t, uint64(0), stats.Rejected)
	require.Equal(t, StateIdle, ctrl.State())
}

func TestCycleRejectedByEngine(t *testing.T) {
	eng := &fakeEngine{accept: false}
	ctrl := New(eng, config.NewStore(nil), bus.New())

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))

	stats := ctrl.Stats()
	require.Equal(t, uint64(1), stats.Rejected)
	require.Equal(t, uint64(0), stats.Accepted)
	require.Equal(t, 0, eng.refines)
}

func TestDecodeFailureAbortsBeforeEngine(t *testing.T) {
	eng := &fakeEngine{accept: true}
	ctrl := New(eng, config.NewStore(nil), bus.New())

	tuple := testTuple(time.Unix(100, 0))
	tuple.LeftImage.Data = tuple.LeftImage.Data[:3]
	ctrl.HandleTuple(tuple)

	require.Equal(t, 0, eng.addCalls)
	require.Equal(t, uint64(1), ctrl.Stats().DecodeFailures)
}

func TestCalibFailureAborts(t *testing.T) {
	eng := &fakeEngine{accept: true}
	ctrl := New(eng, config.NewStore(nil), bus.New())

	tuple := testTuple(time.Unix(100, 0))
	tuple.LeftInfo.P[0] = 0
	ctrl.HandleTuple(tuple)

	require.Equal(t, 0, eng.addCalls)
	require.Equal(t, uint64(1), ctrl.Stats().CalibFailures)
}

func TestMarkersAlwaysPublished(t *testing.T) {
	eng := &fakeEngine{accept: true}
	b := bus.New()
	camSub, err := b.Subscribe(bus.TopicCameras, 4)
	require.NoError(t, err)
	ptSub, err := b.Subscribe(bus.TopicPoints, 4)
	require.NoError(t, err)
	ctrl := New(eng, config.NewStore(nil), b)

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))

	cams := (<-camSub.C).(export.CameraMarkers)
	require.Equal(t, export.GraphFrameID, cams.FrameID)
	require.Len(t, cams.Cameras, 1)
	pts := (<-ptSub.C).(export.PointMarkers)
	require.Equal(t, export.GraphFrameID, pts.FrameID)
}

func TestOverlayGatedOnSubscribers(t *testing.T) {
	eng := &fakeEngine{accept: true, tracks: [][]image.Point{{{X: 1, Y: 1}, {X: 2, Y: 2}}}}
	b := bus.New()
	ctrl := New(eng, config.NewStore(nil), b)

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	require.Equal(t, uint64(0), ctrl.Stats().OverlaysPublished)

	sub, err := b.Subscribe(bus.TopicVOTracks, 4)
	require.NoError(t, err)
	ctrl.HandleTuple(testTuple(time.Unix(101, 0)))
	require.Equal(t, uint64(1), ctrl.Stats().OverlaysPublished)

	overlay := (<-sub.C).(export.Overlay)
	require.Equal(t, time.Unix(101, 0), overlay.Time)
	require.NotNil(t, overlay.Image)
	require.Equal(t, 4, overlay.Calibration.Width)
}

func TestCloudGatedOnSubscribers(t *testing.T) {
	eng := &fakeEngine{accept: true}
	b := bus.New()
	ctrl := New(eng, config.NewStore(nil), b)

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	require.Equal(t, uint64(0), ctrl.Stats().CloudsPublished)

	sub, err := b.Subscribe(bus.TopicPointCloud, 4)
	require.NoError(t, err)
	ctrl.HandleTuple(testTuple(time.Unix(101, 0)))
	require.Equal(t, uint64(1), ctrl.Stats().CloudsPublished)

	cloud := (<-sub.C).(msg.PointCloud)
	require.Equal(t, export.GraphFrameID, cloud.FrameID)
}

func TestRefineInterval(t *testing.T) {
	eng := &fakeEngine{accept: true}
	ctrl := New(eng, config.NewStore(nil), bus.New())

	// First node alone never triggers refinement.
	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	require.Equal(t, 0, eng.refines)

	// Default interval is 1, so every later frame refines.
	ctrl.HandleTuple(testTuple(time.Unix(101, 0)))
	require.Equal(t, 1, eng.refines)
	ctrl.HandleTuple(testTuple(time.Unix(102, 0)))
	require.Equal(t, 2, eng.refines)
}

func TestRefineIntervalConfigured(t *testing.T) {
	eng := &fakeEngine{accept: true}
	interval := 3
	store := config.NewStore(&config.TuningConfig{RefineInterval: &interval})
	ctrl := New(eng, store, bus.New())

	for i := 0; i < 6; i++ {
		ctrl.HandleTuple(testTuple(time.Unix(int64(100+i), 0)))
	}
	// Refines at node counts 3 and 6 only.
	require.Equal(t, 2, eng.refines)
}

func TestConfigReadOncePerCycle(t *testing.T) {
	eng := &fakeEngine{accept: true}
	tuner := &fakeTuner{}
	store := config.NewStore(nil)
	ctrl := New(eng, store, bus.New(), WithDetectorTuner(tuner))

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	require.Equal(t, 100, eng.iterations)
	require.True(t, eng.polish)
	require.Len(t, tuner.applied, 1)

	iters := 250
	polish := false
	store.Apply(&config.TuningConfig{VORansacIterations: &iters, VOPolish: &polish})

	ctrl.HandleTuple(testTuple(time.Unix(101, 0)))
	require.Equal(t, 250, eng.iterations)
	require.False(t, eng.polish)
}

func TestToleranceForwarded(t *testing.T) {
	eng := &fakeEngine{accept: true}
	var got []time.Duration
	ctrl := New(eng, config.NewStore(nil), bus.New(),
		WithToleranceFunc(func(d time.Duration) { got = append(got, d) }))

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	require.Equal(t, []time.Duration{100 * time.Millisecond}, got)
}

func TestRecorderReceivesCycle(t *testing.T) {
	eng := &fakeEngine{accept: true}
	rec := &fakeRecorder{}
	b := bus.New()
	_, err := b.Subscribe(bus.TopicPointCloud, 4)
	require.NoError(t, err)
	ctrl := New(eng, config.NewStore(nil), b, WithRecorder(rec))

	stamp := time.Unix(100, 0)
	ctrl.HandleTuple(testTuple(stamp))

	require.Len(t, rec.records, 1)
	r := rec.records[0]
	require.Equal(t, stamp, r.Stamp)
	require.Equal(t, 1, r.NodeCount)
	require.True(t, r.CloudPublished)
	require.False(t, r.OverlayPublished)
	require.NotEmpty(t, r.ID)
}

func TestObserverSeesLatestPosition(t *testing.T) {
	eng := &fakeEngine{accept: true}
	var positions [][3]float64
	ctrl := New(eng, config.NewStore(nil), bus.New(),
		WithTrajectoryObserver(observerFunc(func(p [3]float64) { positions = append(positions, p) })))

	ctrl.HandleTuple(testTuple(time.Unix(100, 0)))
	ctrl.HandleTuple(testTuple(time.Unix(101, 0)))

	require.Equal(t, [][3]float64{{0, 0, 0}, {1, 0, 0}}, positions)
}

type observerFunc func([3]float64)

func (f observerFunc) Observe(p [3]float64) { f(p) }
