package obfuscate

import (
	"testing"

	"github.com/revanon/revanon/internal/frame"
)

func solidFrame(w, h int, r, g, b byte) *frame.Frame {
	f := frame.New(0, w, h)
	for i := 0; i < w*h; i++ {
		f.Pix[i*3] = r
		f.Pix[i*3+1] = g
		f.Pix[i*3+2] = b
	}
	return f
}

func pixelAt(f *frame.Frame, x, y int) (byte, byte, byte) {
	off := (y*f.Width + x) * 3
	return f.Pix[off], f.Pix[off+1], f.Pix[off+2]
}

func TestApply_outsideBboxUnchanged(t *testing.T) {
	for _, style := range []Style{StyleBlur, StyleMosaic, StylePixelate} {
		f := solidFrame(64, 64, 10, 20, 30)
		// Punch in some noise so blur/mosaic/pixelate actually do something
		// detectable inside the box.
		for y := 20; y < 40; y++ {
			for x := 20; x < 40; x++ {
				off := (y*f.Width + x) * 3
				f.Pix[off] = byte((x * 7) % 256)
				f.Pix[off+1] = byte((y * 13) % 256)
				f.Pix[off+2] = byte((x + y) % 256)
			}
		}
		before := append([]byte(nil), f.Pix...)

		b := frame.Bbox{X1: 20, Y1: 20, X2: 40, Y2: 40}
		if err := Apply(f, b, style); err != nil {
			t.Fatalf("Apply(%s): %v", style, err)
		}

		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				if x >= b.X1 && x < b.X2 && y >= b.Y1 && y < b.Y2 {
					continue
				}
				off := (y*f.Width + x) * 3
				if f.Pix[off] != before[off] || f.Pix[off+1] != before[off+1] || f.Pix[off+2] != before[off+2] {
					t.Fatalf("style %s: pixel (%d,%d) outside bbox changed", style, x, y)
				}
			}
		}
	}
}

func TestApply_zeroAreaIsNoOp(t *testing.T) {
	for _, style := range []Style{StyleBlur, StyleMosaic, StylePixelate} {
		f := solidFrame(32, 32, 1, 2, 3)
		before := append([]byte(nil), f.Pix...)
		b := frame.Bbox{X1: 5, Y1: 5, X2: 5, Y2: 10} // zero width
		if err := Apply(f, b, style); err != nil {
			t.Fatalf("Apply(%s): %v", style, err)
		}
		for i := range f.Pix {
			if f.Pix[i] != before[i] {
				t.Fatalf("style %s: zero-area bbox mutated pixels", style)
			}
		}
	}
}

func TestApply_outOfBoundsErrors(t *testing.T) {
	f := solidFrame(32, 32, 1, 2, 3)
	b := frame.Bbox{X1: 10, Y1: 10, X2: 40, Y2: 20}
	if err := Apply(f, b, StyleBlur); err == nil {
		t.Fatal("expected an out-of-bounds error")
	}
}

func TestBlurKernelSize(t *testing.T) {
	cases := []struct{ w, h, want int }{
		{10, 10, 11},
		{4, 4, 5},
		{100, 50, 51},
		{7, 7, 7},
	}
	for _, c := range cases {
		got := blurKernelSize(c.w, c.h)
		if got != c.want || got%2 == 0 || got < 5 {
			t.Errorf("blurKernelSize(%d,%d) = %d, want %d (odd, >=5)", c.w, c.h, got, c.want)
		}
	}
}

func TestApply_solidColorUnaffectedByAnyStyle(t *testing.T) {
	// A perfectly solid-colour region should come out unchanged (up to
	// rounding) under every style — useful as a quick sanity check distinct
	// from the outside-bbox invariant test.
	for _, style := range []Style{StyleBlur, StyleMosaic, StylePixelate} {
		f := solidFrame(64, 64, 100, 150, 200)
		b := frame.Bbox{X1: 0, Y1: 0, X2: 64, Y2: 64}
		if err := Apply(f, b, style); err != nil {
			t.Fatalf("Apply(%s): %v", style, err)
		}
		r, g, bch := pixelAt(f, 32, 32)
		if absDiff(r, 100) > 2 || absDiff(g, 150) > 2 || absDiff(bch, 200) > 2 {
			t.Errorf("style %s: solid color drifted to (%d,%d,%d)", style, r, g, bch)
		}
	}
}

func absDiff(a byte, b int) int {
	d := int(a) - b
	if d < 0 {
		return -d
	}
	return d
}
