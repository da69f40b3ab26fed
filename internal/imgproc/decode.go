// Package imgproc converts stream image messages into the in-memory
// grayscale form the engine consumes, and renders the feature-track debug
// overlay published for visualisation.
package imgproc

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"

	"github.com/strasdat/vslam/internal/msg"
)

// DecodeMono converts an image message into a single-channel grayscale
// image. Raw encodings are converted in place; container encodings (png,
// jpeg) are decoded with the standard image codecs first.
func DecodeMono(m msg.Image) (*image.Gray, error) {
	switch m.Encoding {
	case msg.EncodingMono8:
		return decodeRaw(m, 1, func(px []byte) uint8 { return px[0] })
	case msg.EncodingRGB8:
		return decodeRaw(m, 3, func(px []byte) uint8 { return luma(px[0], px[1], px[2]) })
	case msg.EncodingBGR8:
		return decodeRaw(m, 3, func(px []byte) uint8 { return luma(px[2], px[1], px[0]) })
	case msg.EncodingPNG, msg.EncodingJPEG:
		src, _, err := image.Decode(bytes.NewReader(m.Data))
		if err != nil {
			return nil, fmt.Errorf("decode %s image: %w", m.Encoding, err)
		}
		return toGray(src), nil
	default:
		return nil, fmt.Errorf("unsupported image encoding %q", m.Encoding)
	}
}

func decodeRaw(m msg.Image, bpp int, pixel func([]byte) uint8) (*image.Gray, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", m.Width, m.Height)
	}
	step := m.Step
	if step == 0 {
		step = m.Width * bpp
	}
	if step < m.Width*bpp {
		return nil, fmt.Errorf("row step %d too small for width %d (%d bytes/px)", step, m.Width, bpp)
	}
	if len(m.Data) < step*(m.Height-1)+m.Width*bpp {
		return nil, fmt.Errorf("image payload truncated: have %d bytes, need %d", len(m.Data), step*(m.Height-1)+m.Width*bpp)
	}

	out := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row := m.Data[y*step:]
		for x := 0; x < m.Width; x++ {
			out.Pix[y*out.Stride+x] = pixel(row[x*bpp:])
		}
	}
	return out, nil
}

// luma uses the BT.601 integer weights.
func luma(r, g, b uint8) uint8 {
	return uint8((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := src.At(x, y).RGBA()
			out.SetGray(x-b.Min.X, y-b.Min.Y, color.Gray{Y: luma(uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8))})
		}
	}
	return out
}
