// Package detect defines the object-detector contract from spec §6
// ("Detector interface") and a subprocess-backed implementation that
// invokes an external detector process over stdin/stdout JSON — the same
// exec.Command + pipe idiom the teacher uses for ffmpeg/ffprobe (see
// internal/videoio) and for child-process supervision (internal/supervisor).
package detect

import "context"

// Box is one detected bounding box (spec §6: "boxes field containing
// entries of (class_id, confidence, xyxy)").
type Box struct {
	ClassID    int
	Confidence float32
	X1, Y1, X2, Y2 float32
	Label      string
}

// Detector yields class-labelled bounding boxes for a single BGR frame.
// verbose is handed to the implementation; SubprocessDetector documents how
// it retries when the detector process rejects a request.
type Detector interface {
	Detect(ctx context.Context, pix []byte, width, height int, verbose bool) ([]Box, error)
	Close() error
}

// Device selects where the detector runs.
type Device string

const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// ResolveDevice mirrors the original source's resolve_device fallback: a
// request for "auto" or "cuda" is satisfied by cuda if probeCUDA succeeds,
// otherwise falls back to cpu; "cpu" is always honored as-is.
func ResolveDevice(requested Device, probeCUDA func() bool) Device {
	switch requested {
	case DeviceCPU:
		return DeviceCPU
	case DeviceCUDA, DeviceAuto:
		if probeCUDA != nil && probeCUDA() {
			return DeviceCUDA
		}
		return DeviceCPU
	default:
		return DeviceCPU
	}
}
