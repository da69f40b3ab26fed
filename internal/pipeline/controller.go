// Package pipeline drives one incremental SLAM cycle per aligned tuple:
// decode, resolve calibration, feed the engine, and produce whatever
// downstream artifacts currently have consumers.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/strasdat/vslam/internal/bus"
	"github.com/strasdat/vslam/internal/calib"
	"github.com/strasdat/vslam/internal/config"
	"github.com/strasdat/vslam/internal/detect"
	"github.com/strasdat/vslam/internal/export"
	"github.com/strasdat/vslam/internal/imgproc"
	"github.com/strasdat/vslam/internal/monitoring"
	"github.com/strasdat/vslam/internal/slam"
	"github.com/strasdat/vslam/internal/stream"
)

// State is the controller's per-cycle state, observable for diagnostics.
type State int32

const (
	StateIdle State = iota
	StateConverting
	StateUpdating
	StateExporting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConverting:
		return "converting"
	case StateUpdating:
		return "updating"
	case StateExporting:
		return "exporting"
	default:
		return "unknown"
	}
}

// CycleRecord summarises one successful cycle for the optional recorder.
type CycleRecord struct {
	ID               string
	Stamp            time.Time
	NodeCount        int
	TrackCount       int
	Refined          bool
	OverlayPublished bool
	CloudPublished   bool
	CloudPoints      int
}

// CycleRecorder receives one record per successful cycle.
type CycleRecorder interface {
	RecordCycle(rec CycleRecord) error
}

// TrajectoryObserver receives the newest camera position after each
// successful cycle.
type TrajectoryObserver interface {
	Observe(position [3]float64)
}

// Stats are the controller's cumulative counters.
type Stats struct {
	Cycles            uint64    `json:"cycles"`
	Accepted          uint64    `json:"accepted"`
	Rejected          uint64    `json:"rejected"`
	DecodeFailures    uint64    `json:"decode_failures"`
	CalibFailures     uint64    `json:"calib_failures"`
	Refines           uint64    `json:"refines"`
	OverlaysPublished uint64    `json:"overlays_published"`
	CloudsPublished   uint64    `json:"clouds_published"`
	LastCycle         time.Time `json:"last_cycle"`
}

// Option configures optional controller collaborators.
type Option func(*Controller)

// WithDetectorTuner forwards detector tuning blocks to tuner each cycle.
func WithDetectorTuner(tuner detect.Tuner) Option {
	return func(c *Controller) { c.tuner = tuner }
}

// WithRecorder attaches a cycle recorder.
func WithRecorder(rec CycleRecorder) Option {
	return func(c *Controller) { c.recorder = rec }
}

// WithTrajectoryObserver attaches a trajectory observer.
func WithTrajectoryObserver(obs TrajectoryObserver) Option {
	return func(c *Controller) { c.observer = obs }
}

// WithToleranceFunc lets the controller push the configured synchronizer
// skew tolerance at the start of each cycle.
func WithToleranceFunc(f func(time.Duration)) Option {
	return func(c *Controller) { c.tolerance = f }
}

// Controller executes the per-cycle state machine. One instance serves one
// pipeline; HandleTuple is invoked from the synchronizer's single worker, so
// cycles never overlap.
type Controller struct {
	engine slam.Engine
	store  *config.Store
	out    *bus.Bus

	tuner     detect.Tuner
	recorder  CycleRecorder
	observer  TrajectoryObserver
	tolerance func(time.Duration)

	state atomic.Int32

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Controller.
func New(engine slam.Engine, store *config.Store, out *bus.Bus, opts ...Option) *Controller {
	c := &Controller{engine: engine, store: store, out: out}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current cycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns a snapshot of the cumulative counters.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HandleTuple runs one full cycle for an aligned tuple. Transient failures
// (bad image, malformed calibration, engine rejection) abort the cycle and
// return the controller to idle; nothing in here is fatal.
func (c *Controller) HandleTuple(tuple stream.Tuple) {
	defer c.state.Store(int32(StateIdle))

	c.statsMu.Lock()
	c.stats.Cycles++
	c.stats.LastCycle = tuple.Stamp()
	c.statsMu.Unlock()

	// Parameters are read once per cycle; an update landing after this
	// point affects the next cycle only.
	params := c.store.Current()
	if c.tuner != nil {
		c.tuner.ApplyTuning(params.GetDetector())
	}
	c.engine.SetMotionEstimation(params.GetVORansacIterations(), params.GetVOPolish())
	if c.tolerance != nil {
		c.tolerance(params.GetSyncTolerance())
	}

	c.state.Store(int32(StateConverting))
	left, err := imgproc.DecodeMono(tuple.LeftImage)
	if err != nil {
		monitoring.Logf("[Pipeline] left image decode failed, cycle aborted: %v", err)
		c.bump(func(s *Stats) { s.DecodeFailures++ })
		return
	}
	right, err := imgproc.DecodeMono(tuple.RightImage)
	if err != nil {
		monitoring.Logf("[Pipeline] right image decode failed, cycle aborted: %v", err)
		c.bump(func(s *Stats) { s.DecodeFailures++ })
		return
	}

	stereo, err := calib.Resolve(tuple.LeftInfo, tuple.RightInfo)
	if err != nil {
		monitoring.Logf("[Pipeline] calibration resolve failed, cycle aborted: %v", err)
		c.bump(func(s *Stats) { s.CalibFailures++ })
		return
	}

	c.state.Store(int32(StateUpdating))
	if !c.engine.AddFrame(stereo, left, right, tuple.Cloud) {
		c.bump(func(s *Stats) { s.Rejected++ })
		return
	}
	c.bump(func(s *Stats) { s.Accepted++ })

	c.state.Store(int32(StateExporting))
	stamp := tuple.Stamp()
	snapshot := c.engine.Snapshot()
	rec := CycleRecord{
		ID:         uuid.New().String(),
		Stamp:      stamp,
		NodeCount:  len(snapshot.Nodes),
		TrackCount: len(snapshot.Tracks),
	}

	cams, pts := export.Markers(snapshot, stamp)
	c.out.Publish(bus.TopicCameras, cams)
	c.out.Publish(bus.TopicPoints, pts)

	// Expensive exports run only for present consumers: never do
	// visualization work nobody will see.
	if c.out.SubscriberCount(bus.TopicVOTracks) > 0 {
		overlay := export.Overlay{
			Time:        stamp,
			Image:       imgproc.DrawTrackOverlay(left, c.engine.FeatureTracks()),
			Calibration: tuple.LeftInfo,
		}
		c.out.Publish(bus.TopicVOTracks, overlay)
		c.bump(func(s *Stats) { s.OverlaysPublished++ })
		rec.OverlayPublished = true
	}

	if c.out.SubscriberCount(bus.TopicPointCloud) > 0 {
		cloud := export.Colorize(snapshot, stamp)
		c.out.Publish(bus.TopicPointCloud, cloud)
		c.bump(func(s *Stats) { s.CloudsPublished++ })
		rec.CloudPublished = true
		rec.CloudPoints = len(cloud.Points)
	}

	size := c.engine.NodeCount()
	if interval := params.GetRefineInterval(); size > 1 && size%interval == 0 {
		monitoring.Logf("[Pipeline] running full refinement on %d nodes", size)
		c.engine.Refine()
		c.bump(func(s *Stats) { s.Refines++ })
		rec.Refined = true
	}

	if c.observer != nil && len(snapshot.Nodes) > 0 {
		c.observer.Observe(snapshot.Nodes[len(snapshot.Nodes)-1].Position)
	}
	if c.recorder != nil {
		if err := c.recorder.RecordCycle(rec); err != nil {
			monitoring.Logf("[Pipeline] cycle record failed: %v", err)
		}
	}
}

func (c *Controller) bump(f func(*Stats)) {
	c.statsMu.Lock()
	f(&c.stats)
	c.statsMu.Unlock()
}
