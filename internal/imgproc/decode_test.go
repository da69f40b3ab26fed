package imgproc

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/strasdat/vslam/internal/msg"
)

func TestDecodeMono8(t *testing.T) {
	// 2x2 mono8 with a padded row stride.
	m := msg.Image{
		Width: 2, Height: 2, Encoding: msg.EncodingMono8, Step: 3,
		Data: []byte{10, 20, 0, 30, 40, 0},
	}
	g, err := DecodeMono(m)
	if err != nil {
		t.Fatalf("DecodeMono: %v", err)
	}
	want := []uint8{10, 20, 30, 40}
	for i, v := range want {
		x, y := i%2, i/2
		if got := g.GrayAt(x, y).Y; got != v {
			t.Errorf("pixel (%d,%d) = %d, want %d", x, y, got, v)
		}
	}
}

func TestDecodeRGB8AndBGR8(t *testing.T) {
	// Single pure-red pixel. BT.601 luma of (255,0,0) is 76.
	rgb := msg.Image{Width: 1, Height: 1, Encoding: msg.EncodingRGB8, Data: []byte{255, 0, 0}}
	bgr := msg.Image{Width: 1, Height: 1, Encoding: msg.EncodingBGR8, Data: []byte{0, 0, 255}}

	gr, err := DecodeMono(rgb)
	if err != nil {
		t.Fatalf("rgb8 decode: %v", err)
	}
	gb, err := DecodeMono(bgr)
	if err != nil {
		t.Fatalf("bgr8 decode: %v", err)
	}
	if gr.GrayAt(0, 0).Y != 76 || gb.GrayAt(0, 0).Y != 76 {
		t.Errorf("luma mismatch: rgb=%d bgr=%d, want 76 for both", gr.GrayAt(0, 0).Y, gb.GrayAt(0, 0).Y)
	}
}

func TestDecodePNG(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 4, 4))
	for i := range src.Pix {
		src.Pix[i] = uint8(i * 16)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	g, err := DecodeMono(msg.Image{Width: 4, Height: 4, Encoding: msg.EncodingPNG, Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if !bytes.Equal(g.Pix, src.Pix) {
		t.Error("png round-trip changed pixel data")
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []msg.Image{
		{Width: 2, Height: 2, Encoding: "mono16", Data: make([]byte, 8)},
		{Width: 2, Height: 2, Encoding: msg.EncodingMono8, Data: []byte{1, 2, 3}},
		{Width: 0, Height: 2, Encoding: msg.EncodingMono8},
		{Width: 2, Height: 2, Encoding: msg.EncodingPNG, Data: []byte("not a png")},
	}
	for i, m := range cases {
		if _, err := DecodeMono(m); err == nil {
			t.Errorf("case %d: expected decode error", i)
		}
	}
}

func TestDrawTrackOverlayDeterministic(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 16, 16))
	tracks := [][]image.Point{
		{{X: 1, Y: 1}, {X: 5, Y: 4}, {X: 9, Y: 9}},
		{{X: 14, Y: 2}},
		{{X: -3, Y: 5}, {X: 30, Y: 5}}, // clipped segment
	}
	a := DrawTrackOverlay(base, tracks)
	b := DrawTrackOverlay(base, tracks)
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("overlay render is not deterministic")
	}
	// Base image must not be mutated.
	for i, v := range base.Pix {
		if v != 0 {
			t.Fatalf("base pixel %d mutated to %d", i, v)
		}
	}
}
