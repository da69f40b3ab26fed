// Package stream synchronizes the five independently-published input
// streams (stereo images, per-camera calibration, textured cloud) into
// aligned tuples using approximate time matching. Five publishers never
// stamp identically, so tuples are formed whenever one message per channel
// falls inside a bounded skew window.
package stream

import (
	"sort"
	"sync"
	"time"

	"github.com/strasdat/vslam/internal/monitoring"
	"github.com/strasdat/vslam/internal/msg"
)

// Channel indices inside the synchronizer.
const (
	chanLeftImage = iota
	chanLeftInfo
	chanRightImage
	chanRightInfo
	chanCloud
	numChannels
)

// Default per-channel buffer depth and skew tolerance.
const (
	DefaultDepth     = 5
	DefaultTolerance = 100 * time.Millisecond
)

// Tuple is one time-aligned set of all five input messages. Created here,
// consumed exactly once by the pipeline controller, then discarded.
type Tuple struct {
	LeftImage  msg.Image
	LeftInfo   msg.CameraInfo
	RightImage msg.Image
	RightInfo  msg.CameraInfo
	Cloud      msg.PointCloud
}

// Stamp returns the left image stamp, used to tag per-cycle outputs.
func (t Tuple) Stamp() time.Time { return t.LeftImage.Stamp() }

// Synchronizer buffers the five streams and emits aligned tuples through a
// single worker goroutine, so downstream cycle execution is serialised even
// when the runtime delivers messages from multiple I/O threads.
type Synchronizer struct {
	mu        sync.Mutex
	tolerance time.Duration
	depth     int
	buffers   [numChannels][]msg.Stamped

	tupleCh chan Tuple
	done    chan struct{}
	closed  bool

	emitted uint64
	dropped uint64
}

// NewSynchronizer creates a Synchronizer delivering tuples to callback from
// a dedicated worker goroutine. Zero tolerance or depth select the defaults.
func NewSynchronizer(tolerance time.Duration, depth int, callback func(Tuple)) *Synchronizer {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	s := &Synchronizer{
		tolerance: tolerance,
		depth:     depth,
		tupleCh:   make(chan Tuple, 4),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		for tuple := range s.tupleCh {
			callback(tuple)
		}
	}()
	return s
}

// SetTolerance updates the skew tolerance, effective for subsequent matches.
func (s *Synchronizer) SetTolerance(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.tolerance = d
	s.mu.Unlock()
}

// Close stops the worker after draining queued tuples. No messages may be
// added after Close.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.tupleCh)
	<-s.done
}

// EmittedCount returns the number of tuples handed to the worker.
func (s *Synchronizer) EmittedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}

// DroppedCount returns messages or tuples shed by overflow.
func (s *Synchronizer) DroppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// AddLeftImage feeds the left rectified image channel.
func (s *Synchronizer) AddLeftImage(m msg.Image) { s.add(chanLeftImage, m) }

// AddLeftInfo feeds the left calibration channel.
func (s *Synchronizer) AddLeftInfo(m msg.CameraInfo) { s.add(chanLeftInfo, m) }

// AddRightImage feeds the right rectified image channel.
func (s *Synchronizer) AddRightImage(m msg.Image) { s.add(chanRightImage, m) }

// AddRightInfo feeds the right calibration channel.
func (s *Synchronizer) AddRightInfo(m msg.CameraInfo) { s.add(chanRightInfo, m) }

// AddCloud feeds the textured point cloud channel.
func (s *Synchronizer) AddCloud(m msg.PointCloud) { s.add(chanCloud, m) }

func (s *Synchronizer) add(ch int, m msg.Stamped) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if len(s.buffers[ch]) >= s.depth {
		// Oldest-unmatched-drop is the only shedding mechanism.
		s.buffers[ch] = s.buffers[ch][1:]
		s.dropped++
	}
	s.buffers[ch] = append(s.buffers[ch], m)

	tuple, ok := s.tryMatch(m.Stamp())
	if ok {
		s.emitted++
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	select {
	case s.tupleCh <- tuple:
	default:
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		monitoring.Logf("[Sync] tuple queue full, dropping tuple stamped %v", tuple.Stamp())
	}
}

// tryMatch looks for one message per channel such that the whole set sits
// inside the tolerance window. Candidate windows are scanned oldest first,
// so a single channel holding both a fitting and a newer non-fitting
// message cannot mask a valid combination. Within the chosen window each
// channel contributes its message closest to the anchor. On success the
// constituents and everything older in each buffer are evicted; there is
// no retroactive matching. Caller holds s.mu.
func (s *Synchronizer) tryMatch(anchor time.Time) (Tuple, bool) {
	var starts []time.Time
	for ch := 0; ch < numChannels; ch++ {
		if len(s.buffers[ch]) == 0 {
			return Tuple{}, false
		}
		for _, m := range s.buffers[ch] {
			starts = append(starts, m.Stamp())
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	picks, ok := s.pickWindow(starts, anchor)
	if !ok {
		return Tuple{}, false
	}

	tuple := Tuple{
		LeftImage:  s.buffers[chanLeftImage][picks[chanLeftImage]].(msg.Image),
		LeftInfo:   s.buffers[chanLeftInfo][picks[chanLeftInfo]].(msg.CameraInfo),
		RightImage: s.buffers[chanRightImage][picks[chanRightImage]].(msg.Image),
		RightInfo:  s.buffers[chanRightInfo][picks[chanRightInfo]].(msg.CameraInfo),
		Cloud:      s.buffers[chanCloud][picks[chanCloud]].(msg.PointCloud),
	}
	for ch, i := range picks {
		s.buffers[ch] = append([]msg.Stamped(nil), s.buffers[ch][i+1:]...)
	}
	return tuple, true
}

// pickWindow finds the oldest window [start, start+tolerance] holding at
// least one message on every channel and returns per-channel picks, each the
// in-window message closest to the anchor. Caller holds s.mu.
func (s *Synchronizer) pickWindow(starts []time.Time, anchor time.Time) ([numChannels]int, bool) {
	var picks [numChannels]int
	for _, start := range starts {
		end := start.Add(s.tolerance)
		found := true
		for ch := 0; ch < numChannels; ch++ {
			best, bestSkew := -1, time.Duration(0)
			for i, m := range s.buffers[ch] {
				st := m.Stamp()
				if st.Before(start) || st.After(end) {
					continue
				}
				skew := absDuration(st.Sub(anchor))
				if best == -1 || skew < bestSkew {
					best, bestSkew = i, skew
				}
			}
			if best == -1 {
				found = false
				break
			}
			picks[ch] = best
		}
		if found {
			return picks, true
		}
	}
	return picks, false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
