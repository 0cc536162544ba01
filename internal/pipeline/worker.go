package pipeline

import (
	"context"
	"fmt"

	"github.com/revanon/revanon/internal/cryptobox"
	"github.com/revanon/revanon/internal/datapack"
	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/obfuscate"
	"github.com/revanon/revanon/internal/track"
)

// trackerEntry pairs a live tracker with its manual-region label (spec §4.6
// step 2: "manual_<k>").
type trackerEntry struct {
	id      string
	tracker track.Tracker
}

// worker holds the per-job, cross-frame state described in spec §4.6: live
// trackers, the one-shot seed ROI list, and the detector configuration.
// Exactly one worker instance exists per job (spec §9 "Ambiguous worker
// count" — preserved as num_workers=1; see DESIGN.md).
type worker struct {
	aesKey []byte
	style  obfuscate.Style

	trackerFactory track.Factory
	trackerEntries []trackerEntry
	trackersInit   bool
	initialROIs    []frame.Bbox

	detector         detect.Detector
	detectorEnabled  bool
	sensitiveClasses map[string]bool

	onEvent StatusCallback
	metrics *Metrics
}

// frameResult is what the worker hands to the consumer stage: the processed
// (obfuscated) frame plus its region metadata, in manual-then-detection
// order (spec §4.6 "Ordering tie-break").
type frameResult struct {
	index   int
	frame   *frame.Frame
	regions []datapack.Region
}

// processFrame implements spec §4.6's five-step procedure for one input
// frame.
func (w *worker) processFrame(ctx context.Context, f *frame.Frame) (frameResult, error) {
	processed := f.Clone()

	// Step 2: seed trackers from the one-shot manual ROI list, once.
	if !w.trackersInit {
		if len(w.initialROIs) > 0 {
			for idx, bbox := range w.initialROIs {
				clamped := bbox.Clamp(f.Width, f.Height)
				if clamped.Empty() {
					continue
				}
				seed := track.Rect{X: clamped.X1, Y: clamped.Y1, W: clamped.Width(), H: clamped.Height()}
				w.trackerEntries = append(w.trackerEntries, trackerEntry{
					id:      fmt.Sprintf("manual_%d", idx),
					tracker: w.trackerFactory(f, seed),
				})
			}
		}
		w.trackersInit = true
	}

	// Step 3: update every live tracker against the source frame.
	manualRegions, err := w.updateTrackers(f, processed)
	if err != nil {
		return frameResult{}, err
	}

	// Step 4: invoke the detector on the already-obfuscated processed frame
	// (spec §9 "Detector input frame" — replicated faithfully from the
	// original; this may reduce recall for detections overlapping manual
	// ROIs, flagged as an open question in SPEC_FULL.md).
	var detectionRegions []datapack.Region
	if w.detectorEnabled && len(w.sensitiveClasses) > 0 {
		detectionRegions, err = w.runDetector(ctx, f, processed)
		if err != nil {
			return frameResult{}, err
		}
	}

	regions := make([]datapack.Region, 0, len(manualRegions)+len(detectionRegions))
	regions = append(regions, manualRegions...)
	regions = append(regions, detectionRegions...)

	return frameResult{index: f.Index, frame: processed, regions: regions}, nil
}

func (w *worker) updateTrackers(source, processed *frame.Frame) ([]datapack.Region, error) {
	var regions []datapack.Region
	var active []trackerEntry

	for _, entry := range w.trackerEntries {
		ok, r := entry.tracker.Update(source)
		if !ok {
			continue // tracker lost: dropped, per spec §4.6 step 3
		}
		bbox := frame.Bbox{X1: r.X, Y1: r.Y, X2: r.X + r.W, Y2: r.Y + r.H}.Clamp(source.Width, source.Height)
		if bbox.Empty() {
			continue
		}

		region, err := w.sealRegion(source, processed, bbox, entry.id, 1.0, datapack.SourceManual)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)
		active = append(active, entry)

		if w.onEvent != nil {
			w.onEvent(Event{Type: EventManualROI, Data: map[string]any{
				"label": entry.id, "bbox": [4]int{bbox.X1, bbox.Y1, bbox.X2, bbox.Y2},
			}})
		}
	}

	w.trackerEntries = active
	return regions, nil
}

func (w *worker) runDetector(ctx context.Context, source, processed *frame.Frame) ([]datapack.Region, error) {
	boxes, err := w.detector.Detect(ctx, processed.Pix, processed.Width, processed.Height, false)
	if err != nil {
		return nil, fmt.Errorf("pipeline: detector: %w", err)
	}

	var regions []datapack.Region
	for _, box := range boxes {
		if !w.sensitiveClasses[box.Label] {
			continue
		}
		bbox := frame.Bbox{
			X1: int(box.X1), Y1: int(box.Y1), X2: int(box.X2), Y2: int(box.Y2),
		}.Clamp(source.Width, source.Height)
		if bbox.Empty() {
			continue
		}

		region, err := w.sealRegion(source, processed, bbox, box.Label, box.Confidence, datapack.SourceDetection)
		if err != nil {
			return nil, err
		}
		regions = append(regions, region)

		if w.onEvent != nil {
			w.onEvent(Event{Type: EventDetection, Data: map[string]any{
				"label": box.Label, "confidence": box.Confidence,
				"bbox": [4]int{bbox.X1, bbox.Y1, bbox.X2, bbox.Y2},
			}})
		}
	}
	return regions, nil
}

// sealRegion extracts the ROI from the source (unmodified) frame, encrypts
// it, and obfuscates the same ROI in processed — in that order, per spec
// §4.4 "encrypt first, obfuscate second."
func (w *worker) sealRegion(source, processed *frame.Frame, bbox frame.Bbox, label string, confidence float32, src datapack.Source) (datapack.Region, error) {
	roi, err := source.ROI(bbox)
	if err != nil {
		return datapack.Region{}, err
	}
	ciphertext, err := cryptobox.Seal(roi, w.aesKey)
	if err != nil {
		return datapack.Region{}, fmt.Errorf("pipeline: seal region: %w", err)
	}
	if err := obfuscate.Apply(processed, bbox, w.style); err != nil {
		return datapack.Region{}, fmt.Errorf("pipeline: obfuscate region: %w", err)
	}
	if w.metrics != nil {
		w.metrics.RegionsSealed.Inc()
	}

	return datapack.Region{
		Label:      label,
		Confidence: confidence,
		X1:         bbox.X1, Y1: bbox.Y1, X2: bbox.X2, Y2: bbox.Y2,
		Source:     src,
		Ciphertext: ciphertext,
	}, nil
}
