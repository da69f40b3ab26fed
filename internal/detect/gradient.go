package detect

import (
	"image"
	"math"
	"sort"
)

// GradientDetector picks pixels whose local intensity gradient magnitude
// exceeds a threshold. Simple, but adequate for textured indoor scenes where
// the stereo rig supplies dense cloud geometry anyway.
type GradientDetector struct {
	Threshold   float64
	MaxFeatures int
}

// NewGradientDetector returns a GradientDetector with default tuning.
func NewGradientDetector() *GradientDetector {
	return &GradientDetector{Threshold: 25, MaxFeatures: 400}
}

// ApplyTuning implements Tuner.
func (d *GradientDetector) ApplyTuning(t Tuning) {
	if t.Threshold != nil {
		d.Threshold = *t.Threshold
	}
	if t.MaxFeatures != nil {
		d.MaxFeatures = *t.MaxFeatures
	}
}

// Detect implements Detector. Features are returned strongest-first,
// truncated to MaxFeatures.
func (d *GradientDetector) Detect(img *image.Gray) []Feature {
	feats := gradientFeatures(img, image.Rect(0, 0, 0, 0), d.Threshold)
	sort.Slice(feats, func(i, j int) bool { return feats[i].Response > feats[j].Response })
	if d.MaxFeatures > 0 && len(feats) > d.MaxFeatures {
		feats = feats[:d.MaxFeatures]
	}
	return feats
}

// gradientFeatures scans region (or the whole image when region is empty)
// for pixels whose central-difference gradient magnitude exceeds threshold.
func gradientFeatures(img *image.Gray, region image.Rectangle, threshold float64) []Feature {
	b := img.Bounds()
	if region.Empty() {
		region = b
	}
	region = region.Intersect(b)

	var feats []Feature
	for y := max(region.Min.Y, b.Min.Y+1); y < min(region.Max.Y, b.Max.Y-1); y++ {
		for x := max(region.Min.X, b.Min.X+1); x < min(region.Max.X, b.Max.X-1); x++ {
			gx := float64(img.GrayAt(x+1, y).Y) - float64(img.GrayAt(x-1, y).Y)
			gy := float64(img.GrayAt(x, y+1).Y) - float64(img.GrayAt(x, y-1).Y)
			mag := math.Hypot(gx, gy)
			if mag >= threshold {
				feats = append(feats, Feature{X: x, Y: y, Response: mag})
			}
		}
	}
	return feats
}

// GridAdaptedDetector divides the image into a grid and keeps the strongest
// features per cell, spreading detections across the frame instead of
// clustering on the most textured patch.
type GridAdaptedDetector struct {
	Threshold   float64
	GridRows    int
	GridCols    int
	MaxFeatures int
}

// NewGridAdaptedDetector returns a GridAdaptedDetector with default tuning.
func NewGridAdaptedDetector() *GridAdaptedDetector {
	return &GridAdaptedDetector{Threshold: 25, GridRows: 8, GridCols: 8, MaxFeatures: 400}
}

// ApplyTuning implements Tuner.
func (d *GridAdaptedDetector) ApplyTuning(t Tuning) {
	if t.Threshold != nil {
		d.Threshold = *t.Threshold
	}
	if t.GridRows != nil && *t.GridRows > 0 {
		d.GridRows = *t.GridRows
	}
	if t.GridCols != nil && *t.GridCols > 0 {
		d.GridCols = *t.GridCols
	}
	if t.MaxFeatures != nil {
		d.MaxFeatures = *t.MaxFeatures
	}
}

// Detect implements Detector.
func (d *GridAdaptedDetector) Detect(img *image.Gray) []Feature {
	b := img.Bounds()
	rows, cols := d.GridRows, d.GridCols
	if rows <= 0 {
		rows = 1
	}
	if cols <= 0 {
		cols = 1
	}
	perCell := 1
	if d.MaxFeatures > 0 {
		perCell = d.MaxFeatures / (rows * cols)
		if perCell < 1 {
			perCell = 1
		}
	}

	var feats []Feature
	cellW := (b.Dx() + cols - 1) / cols
	cellH := (b.Dy() + rows - 1) / rows
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			cell := image.Rect(
				b.Min.X+c*cellW, b.Min.Y+r*cellH,
				b.Min.X+(c+1)*cellW, b.Min.Y+(r+1)*cellH,
			)
			found := gradientFeatures(img, cell, d.Threshold)
			sort.Slice(found, func(i, j int) bool { return found[i].Response > found[j].Response })
			if len(found) > perCell {
				found = found[:perCell]
			}
			feats = append(feats, found...)
		}
	}
	if d.MaxFeatures > 0 && len(feats) > d.MaxFeatures {
		sort.Slice(feats, func(i, j int) bool { return feats[i].Response > feats[j].Response })
		feats = feats[:d.MaxFeatures]
	}
	return feats
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
