package obfuscate

import "github.com/revanon/revanon/internal/frame"

// applyMosaic downsamples b by cell_size=14 with bilinear interpolation,
// then upsamples by nearest-neighbour back to (w, h), per spec §4.4.
func applyMosaic(f *frame.Frame, b frame.Bbox) error {
	w, h := b.Width(), b.Height()
	src := roi(f, b)

	smallW := maxInt(1, w/mosaicCellSize)
	smallH := maxInt(1, h/mosaicCellSize)

	small := resizeBilinear(src, w, h, smallW, smallH)
	out := resizeNearest(small, smallW, smallH, w, h)

	paste(f, b, out)
	return nil
}

// applyPixelate downsamples b by linear scale 0.15, then upsamples by
// nearest-neighbour back to (w, h), per spec §4.4.
func applyPixelate(f *frame.Frame, b frame.Bbox) error {
	w, h := b.Width(), b.Height()
	src := roi(f, b)

	smallW := maxInt(1, roundInt(float64(w)*pixelateScale))
	smallH := maxInt(1, roundInt(float64(h)*pixelateScale))

	small := resizeNearest(src, w, h, smallW, smallH)
	out := resizeNearest(small, smallW, smallH, w, h)

	paste(f, b, out)
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}

// resizeNearest resizes a srcW x srcH, 3 bytes/px buffer to dstW x dstH using
// nearest-neighbour sampling.
func resizeNearest(src []byte, srcW, srcH, dstW, dstH int) []byte {
	out := make([]byte, dstW*dstH*3)
	for y := 0; y < dstH; y++ {
		sy := clamp(y*srcH/dstH, 0, srcH-1)
		for x := 0; x < dstW; x++ {
			sx := clamp(x*srcW/dstW, 0, srcW-1)
			srcOff := (sy*srcW + sx) * 3
			dstOff := (y*dstW + x) * 3
			out[dstOff] = src[srcOff]
			out[dstOff+1] = src[srcOff+1]
			out[dstOff+2] = src[srcOff+2]
		}
	}
	return out
}

// resizeBilinear resizes a srcW x srcH, 3 bytes/px buffer to dstW x dstH
// using bilinear interpolation.
func resizeBilinear(src []byte, srcW, srcH, dstW, dstH int) []byte {
	out := make([]byte, dstW*dstH*3)
	scaleX := float64(srcW) / float64(dstW)
	scaleY := float64(srcH) / float64(dstH)

	for y := 0; y < dstH; y++ {
		fy := (float64(y)+0.5)*scaleY - 0.5
		y0 := clamp(int(fy), 0, srcH-1)
		y1 := clamp(y0+1, 0, srcH-1)
		wy := fy - float64(y0)
		if wy < 0 {
			wy = 0
		}

		for x := 0; x < dstW; x++ {
			fx := (float64(x)+0.5)*scaleX - 0.5
			x0 := clamp(int(fx), 0, srcW-1)
			x1 := clamp(x0+1, 0, srcW-1)
			wx := fx - float64(x0)
			if wx < 0 {
				wx = 0
			}

			for c := 0; c < 3; c++ {
				p00 := float64(src[(y0*srcW+x0)*3+c])
				p10 := float64(src[(y0*srcW+x1)*3+c])
				p01 := float64(src[(y1*srcW+x0)*3+c])
				p11 := float64(src[(y1*srcW+x1)*3+c])

				top := p00*(1-wx) + p10*wx
				bottom := p01*(1-wx) + p11*wx
				val := top*(1-wy) + bottom*wy

				out[(y*dstW+x)*3+c] = clampByte(val)
			}
		}
	}
	return out
}
