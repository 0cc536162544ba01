package obfuscate

import (
	"math"

	"github.com/revanon/revanon/internal/frame"
)

// applyBlur replaces b's pixels with a Gaussian blur of themselves, using a
// separable convolution with kernel size per spec §4.4: k = max(5,
// (min(h,w)/2)*2 + 1), sigma derived from k the way OpenCV's GaussianBlur
// does when sigma is unset (0.3*((k-1)*0.5 - 1) + 0.8).
func applyBlur(f *frame.Frame, b frame.Bbox) error {
	w, h := b.Width(), b.Height()
	src := roi(f, b)

	k := blurKernelSize(w, h)
	sigma := 0.3*(float64(k-1)*0.5-1) + 0.8
	weights := gaussianKernel(k, sigma)

	tmp := make([]byte, len(src))
	out := make([]byte, len(src))

	convolveHorizontal(src, tmp, w, h, weights)
	convolveVertical(tmp, out, w, h, weights)

	paste(f, b, out)
	return nil
}

func gaussianKernel(size int, sigma float64) []float64 {
	half := size / 2
	weights := make([]float64, size)
	sum := 0.0
	for i := 0; i < size; i++ {
		x := float64(i - half)
		v := math.Exp(-(x * x) / (2 * sigma * sigma))
		weights[i] = v
		sum += v
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// convolveHorizontal applies weights along each row, clamping at borders
// (replicate-edge, matching OpenCV's default BORDER_REFLECT_101 closely
// enough for a purely visual obfuscation kernel).
func convolveHorizontal(src, dst []byte, w, h int, weights []float64) {
	half := len(weights) / 2
	for y := 0; y < h; y++ {
		rowOff := y * w * 3
		for x := 0; x < w; x++ {
			var sum [3]float64
			for k, wt := range weights {
				sx := clamp(x+k-half, 0, w-1)
				px := rowOff + sx*3
				sum[0] += wt * float64(src[px])
				sum[1] += wt * float64(src[px+1])
				sum[2] += wt * float64(src[px+2])
			}
			dstPx := rowOff + x*3
			dst[dstPx] = clampByte(sum[0])
			dst[dstPx+1] = clampByte(sum[1])
			dst[dstPx+2] = clampByte(sum[2])
		}
	}
}

func convolveVertical(src, dst []byte, w, h int, weights []float64) {
	half := len(weights) / 2
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			var sum [3]float64
			for k, wt := range weights {
				sy := clamp(y+k-half, 0, h-1)
				px := (sy*w + x) * 3
				sum[0] += wt * float64(src[px])
				sum[1] += wt * float64(src[px+1])
				sum[2] += wt * float64(src[px+2])
			}
			dstPx := (y*w + x) * 3
			dst[dstPx] = clampByte(sum[0])
			dst[dstPx+1] = clampByte(sum[1])
			dst[dstPx+2] = clampByte(sum[2])
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampByte(v float64) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v + 0.5)
}
