package pipeline

import (
	"log"

	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/obfuscate"
	"github.com/revanon/revanon/internal/track"
)

// Options configures one anonymization job (spec §4 "Job parameters" / §6
// CLI flags).
type Options struct {
	// AESKey and HMACKey are the job's symmetric keys (spec §3 "Key
	// material"). Callers own their lifecycle; the pipeline never persists
	// them beyond the job.
	AESKey  []byte
	HMACKey []byte

	// Classes lists the class labels the detector should flag as sensitive
	// (spec §4 "sensitive_classes"). A nil/empty list disables detection
	// even if DisableDetector is false.
	Classes []string

	// ManualROIs seeds trackers on frame 0 (spec §4.6 step 2).
	ManualROIs []frame.Bbox

	// Style selects the obfuscation kernel applied to every sealed region.
	Style obfuscate.Style

	// DisableDetector forces the detector stage off regardless of Classes.
	DisableDetector bool

	// Detector is the external collaborator; a nil Detector disables the
	// detection step just as DisableDetector does.
	Detector detect.Detector

	// TrackerFactory constructs the per-ROI tracker; defaults to
	// track.NewTemplateTracker when nil.
	TrackerFactory track.Factory

	// Workers is accepted for forward compatibility with spec §9's open
	// question on worker parallelism but is otherwise ignored: the
	// pipeline always runs exactly one worker goroutine (see DESIGN.md).
	Workers int

	// EmbedPack requests that the finished data pack also be embedded into
	// the output container as a UUID box (spec §4.7); the standalone pack
	// file is kept either way.
	EmbedPack bool

	// EmbeddedOutputPath, when set and EmbedPack is true, is passed through
	// to mp4box.Embed as the destination container: embedding writes a new
	// file at this path rather than rewriting OutputPath in place. Empty
	// means in-place.
	EmbeddedOutputPath string

	// OnEvent receives every lifecycle and per-frame event; NoopCallback
	// is used when nil.
	OnEvent StatusCallback

	// Metrics, if non-nil, receives frame/region/queue-depth observations
	// for the optional /metrics surface (spec E3).
	Metrics *Metrics
}

func (o Options) sensitiveClassSet() map[string]bool {
	set := make(map[string]bool, len(o.Classes))
	for _, c := range o.Classes {
		set[c] = true
	}
	return set
}

func (o Options) trackerFactory() track.Factory {
	if o.TrackerFactory != nil {
		return o.TrackerFactory
	}
	return track.NewTemplateTracker
}

func (o Options) callback() StatusCallback {
	if o.OnEvent == nil {
		return NoopCallback
	}
	cb := o.OnEvent
	return func(evt Event) {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("pipeline: status callback panicked on %s event: %v", evt.Type, r)
			}
		}()
		cb(evt)
	}
}
