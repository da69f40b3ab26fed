// Package detect provides the feature detector variants used for frame
// processing. Detectors are selected by a variant tag and expose an explicit
// ApplyTuning capability, so live reconfiguration never needs to inspect the
// concrete type behind a Detector handle.
package detect

import "image"

// Feature is a single detected image feature.
type Feature struct {
	X, Y     int
	Response float64
}

// Detector extracts features from a grayscale image.
type Detector interface {
	Detect(img *image.Gray) []Feature
}

// Tuning is the detector parameter block delivered by live reconfiguration.
// Nil fields leave the current value unchanged.
type Tuning struct {
	Threshold   *float64 `json:"threshold,omitempty"`
	GridRows    *int     `json:"grid_rows,omitempty"`
	GridCols    *int     `json:"grid_cols,omitempty"`
	MaxFeatures *int     `json:"max_features,omitempty"`
}

// Tuner is the capability interface for detectors that accept live tuning.
type Tuner interface {
	ApplyTuning(t Tuning)
}

// Variant identifies a detector implementation.
type Variant string

const (
	VariantGradient    Variant = "gradient"
	VariantGridAdapted Variant = "grid_adapted"
)

// AnyDetector wraps the active detector variant and forwards tuning to it.
// Switching variants swaps the wrapped implementation; callers keep one
// stable handle.
type AnyDetector struct {
	variant Variant
	impl    Detector
}

// NewAnyDetector creates an AnyDetector with the given variant active.
// Unknown variants fall back to the grid-adapted detector.
func NewAnyDetector(v Variant) *AnyDetector {
	d := &AnyDetector{}
	d.SetVariant(v)
	return d
}

// SetVariant activates a detector variant.
func (d *AnyDetector) SetVariant(v Variant) {
	switch v {
	case VariantGradient:
		d.impl = NewGradientDetector()
	default:
		v = VariantGridAdapted
		d.impl = NewGridAdaptedDetector()
	}
	d.variant = v
}

// Variant returns the active variant tag.
func (d *AnyDetector) Variant() Variant { return d.variant }

// Detect implements Detector.
func (d *AnyDetector) Detect(img *image.Gray) []Feature {
	return d.impl.Detect(img)
}

// ApplyTuning implements Tuner by forwarding to the active variant when it
// supports tuning.
func (d *AnyDetector) ApplyTuning(t Tuning) {
	if tuner, ok := d.impl.(Tuner); ok {
		tuner.ApplyTuning(t)
	}
}
