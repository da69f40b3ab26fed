// Package msg defines the timestamped message types carried on the five
// input streams consumed by the pipeline: rectified stereo images, per-camera
// calibration, and the textured point cloud. Wire encoding of these messages
// is the surrounding middleware's concern; this package only models the
// decoded payloads the pipeline needs.
package msg

import "time"

// Image encodings understood by the pipeline. Raw encodings carry pixel data
// directly in Data (row stride given by Step); the container encodings carry
// a complete encoded file.
const (
	EncodingMono8 = "mono8"
	EncodingRGB8  = "rgb8"
	EncodingBGR8  = "bgr8"
	EncodingPNG   = "png"
	EncodingJPEG  = "jpeg"
)

// Stamped is implemented by every stream message. The synchronizer matches
// messages across streams purely on these stamps.
type Stamped interface {
	Stamp() time.Time
}

// Image is one rectified camera image.
type Image struct {
	Time     time.Time
	Seq      uint32
	FrameID  string
	Width    int
	Height   int
	Encoding string
	Step     int // bytes per row for raw encodings; ignored for containers
	Data     []byte
}

// Stamp implements Stamped.
func (m Image) Stamp() time.Time { return m.Time }

// CameraInfo carries one camera's calibration: the 3x3 intrinsic matrix K
// and the 3x4 projection matrix P, both row-major.
type CameraInfo struct {
	Time    time.Time
	Seq     uint32
	FrameID string
	Width   int
	Height  int
	K       [9]float64
	P       [12]float64
}

// Stamp implements Stamped.
func (m CameraInfo) Stamp() time.Time { return m.Time }

// Point is one textured point cloud sample.
type Point struct {
	X, Y, Z float32
	R, G, B uint8
}

// PointCloud is one textured point cloud message.
type PointCloud struct {
	Time    time.Time
	Seq     uint32
	FrameID string
	Points  []Point
}

// Stamp implements Stamped.
func (m PointCloud) Stamp() time.Time { return m.Time }
