package imgproc

import (
	"image"
	"image/color"
	"image/draw"
)

// trackPalette colors feature tracks by age bucket so a viewer can see at a
// glance which tracks have survived many frames.
var trackPalette = []color.RGBA{
	{R: 255, A: 255},          // new track
	{R: 255, G: 255, A: 255},  // surviving
	{G: 255, A: 255},          // established
	{G: 255, B: 255, A: 255},  // long-lived
}

// DrawTrackOverlay renders feature track polylines over the left camera
// image. Each element of tracks is the pixel history of one feature, oldest
// first. The input image is not modified; the result is deterministic for a
// fixed input.
func DrawTrackOverlay(base *image.Gray, tracks [][]image.Point) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, base, b.Min, draw.Src)

	for _, track := range tracks {
		if len(track) == 0 {
			continue
		}
		bucket := len(track) - 1
		if bucket >= len(trackPalette) {
			bucket = len(trackPalette) - 1
		}
		col := trackPalette[bucket]
		for i := 1; i < len(track); i++ {
			drawLine(out, track[i-1], track[i], col)
		}
		drawDot(out, track[len(track)-1], col)
	}
	return out
}

// drawLine draws a 1px Bresenham segment clipped to the image bounds.
func drawLine(img *image.RGBA, a, b image.Point, col color.RGBA) {
	dx := abs(b.X - a.X)
	dy := -abs(b.Y - a.Y)
	sx, sy := 1, 1
	if a.X > b.X {
		sx = -1
	}
	if a.Y > b.Y {
		sy = -1
	}
	err := dx + dy
	x, y := a.X, a.Y
	for {
		if (image.Point{X: x, Y: y}.In(img.Bounds())) {
			img.SetRGBA(x, y, col)
		}
		if x == b.X && y == b.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawDot marks the newest observation of a track with a 3x3 block.
func drawDot(img *image.RGBA, p image.Point, col color.RGBA) {
	for y := p.Y - 1; y <= p.Y+1; y++ {
		for x := p.X - 1; x <= p.X+1; x++ {
			if (image.Point{X: x, Y: y}.In(img.Bounds())) {
				img.SetRGBA(x, y, col)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
