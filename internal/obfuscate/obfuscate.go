// Package obfuscate implements the in-place region obfuscation kernels
// described in spec §4.4 (C4): blur, mosaic, and pixelate. Kernels operate
// only on the processed output frame, never on the source buffer used for
// encryption (encrypt first, obfuscate second — spec §4.4).
package obfuscate

import (
	"fmt"

	"github.com/revanon/revanon/internal/frame"
)

// Style selects one of the three obfuscation kernels.
type Style string

const (
	StyleBlur     Style = "blur"
	StyleMosaic   Style = "mosaic"
	StylePixelate Style = "pixelate"
)

// mosaicCellSize and pixelateScale are the fixed parameters from spec §4.4.
const (
	mosaicCellSize = 14
	pixelateScale  = 0.15
)

// Apply obfuscates the region b of f in place according to style. A
// zero-area region is a no-op (spec §4.4).
func Apply(f *frame.Frame, b frame.Bbox, style Style) error {
	if b.Empty() {
		return nil
	}
	if b.X1 < 0 || b.Y1 < 0 || b.X2 > f.Width || b.Y2 > f.Height {
		return fmt.Errorf("obfuscate: bbox %+v out of bounds for %dx%d frame", b, f.Width, f.Height)
	}

	switch style {
	case StyleBlur:
		return applyBlur(f, b)
	case StyleMosaic:
		return applyMosaic(f, b)
	case StylePixelate:
		return applyPixelate(f, b)
	default:
		return fmt.Errorf("obfuscate: unknown style %q", style)
	}
}

// roi extracts a mutable copy of b's pixels from f (row-major, 3 bytes/px).
func roi(f *frame.Frame, b frame.Bbox) []byte {
	data, err := f.ROI(b)
	if err != nil {
		// Apply already bounds-checked b against f, so this cannot happen.
		panic(err)
	}
	return data
}

func paste(f *frame.Frame, b frame.Bbox, data []byte) {
	if err := f.PasteROI(b, data); err != nil {
		panic(err)
	}
}

// blurKernelSize returns the odd, >=5 Gaussian kernel size for a w x h
// region, per spec §4.4: k = max(5, (min(h,w)/2)*2 + 1).
func blurKernelSize(w, h int) int {
	m := w
	if h < m {
		m = h
	}
	k := (m/2)*2 + 1
	if k < 5 {
		k = 5
	}
	return k
}
