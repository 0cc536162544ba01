// Package track defines the tracker contract from spec §6 ("Tracker
// interface") and a pure-Go template-matching tracker used where a native
// CSRT binding is unavailable. No Go library in the retrieval pack wraps
// CSRT or an equivalent correlation-filter tracker (the pack's only
// video-adjacent cgo bindings are ffmpeg codecs, not tracking) — see
// DESIGN.md for why this stays a standard-library implementation.
package track

import "github.com/revanon/revanon/internal/frame"

// Rect is (x, y, w, h), matching the cv2.Tracker convention in spec §6
// rather than the (x1,y1,x2,y2) bbox convention used elsewhere.
type Rect struct {
	X, Y, W, H int
}

// Tracker maintains a single region's position across frames.
type Tracker interface {
	// Update reports the tracker's best estimate of its region's new
	// position in f, or ok=false if tracking was lost.
	Update(f *frame.Frame) (ok bool, r Rect)
}

// Factory constructs a Tracker seeded on the given frame and initial rect
// (spec §6: "init(frame, (x, y, w, h)) -> Tracker").
type Factory func(f *frame.Frame, seed Rect) Tracker
