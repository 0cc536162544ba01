package track

import "github.com/revanon/revanon/internal/frame"

// TemplateTracker tracks a region by searching a local window around its
// last known position for the best sum-of-absolute-differences match
// against the template captured at init time. It loses track (Update
// returns ok=false) once the best match's mean absolute difference exceeds
// lossThreshold.
type TemplateTracker struct {
	template []byte // w*h*3 bytes captured at init
	w, h     int
	lastX    int
	lastY    int

	// searchMargin bounds how far per-frame the tracked box may move;
	// widening it costs more CPU per frame but tolerates faster motion.
	searchMargin int

	// lossThreshold is the maximum acceptable mean per-channel absolute
	// difference (0-255) before the tracker reports loss.
	lossThreshold float64
}

const (
	defaultSearchMargin  = 24
	defaultLossThreshold = 60.0
)

// NewTemplateTracker implements Factory: it captures frame f's pixels under
// seed as the tracking template.
func NewTemplateTracker(f *frame.Frame, seed Rect) Tracker {
	b := frame.Bbox{X1: seed.X, Y1: seed.Y, X2: seed.X + seed.W, Y2: seed.Y + seed.H}
	roi, err := f.ROI(b)
	if err != nil {
		return &lostTracker{}
	}
	return &TemplateTracker{
		template:      roi,
		w:             seed.W,
		h:             seed.H,
		lastX:         seed.X,
		lastY:         seed.Y,
		searchMargin:  defaultSearchMargin,
		lossThreshold: defaultLossThreshold,
	}
}

func (t *TemplateTracker) Update(f *frame.Frame) (bool, Rect) {
	bestX, bestY := t.lastX, t.lastY
	bestScore := -1.0

	x0 := maxInt(0, t.lastX-t.searchMargin)
	y0 := maxInt(0, t.lastY-t.searchMargin)
	x1 := minInt(f.Width-t.w, t.lastX+t.searchMargin)
	y1 := minInt(f.Height-t.h, t.lastY+t.searchMargin)

	if x1 < x0 || y1 < y0 {
		return false, Rect{}
	}

	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			score := sadScore(f, x, y, t.w, t.h, t.template)
			if bestScore < 0 || score < bestScore {
				bestScore = score
				bestX, bestY = x, y
			}
		}
	}

	if bestScore < 0 || bestScore > t.lossThreshold {
		return false, Rect{}
	}

	t.lastX, t.lastY = bestX, bestY
	return true, Rect{X: bestX, Y: bestY, W: t.w, H: t.h}
}

// sadScore returns the mean per-channel absolute difference between
// template and the w x h region of f at (x, y).
func sadScore(f *frame.Frame, x, y, w, h int, template []byte) float64 {
	var sum int64
	for row := 0; row < h; row++ {
		srcOff := ((y+row)*f.Width + x) * 3
		tplOff := row * w * 3
		rowBytes := w * 3
		for i := 0; i < rowBytes; i++ {
			d := int(f.Pix[srcOff+i]) - int(template[tplOff+i])
			if d < 0 {
				d = -d
			}
			sum += int64(d)
		}
	}
	return float64(sum) / float64(w*h*3)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// lostTracker always reports loss; used when a tracker cannot be seeded
// (degenerate bbox at init time).
type lostTracker struct{}

func (lostTracker) Update(f *frame.Frame) (bool, Rect) { return false, Rect{} }
