package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/revanon/revanon/internal/datapack"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/mp4box"
	"github.com/revanon/revanon/internal/videoio"
)

// Result is what Run returns on success (spec §4.5 "Job outcome").
type Result struct {
	OutputPath    string
	DataPackPath  string
	EmbeddedIn    string // non-empty only when Options.EmbedPack was set
	FramesWritten int64
	PackDigest    [32]byte
}

// Run drives the full decode -> worker -> encode+pack pipeline for one
// source video (spec §4.5, C5). It probes metadata, spawns the bounded
// three-stage topology, and blocks until the source is exhausted, the job is
// cancelled via state.Cancel, or a stage errors.
func Run(ctx context.Context, opener videoio.Opener, sourcePath, outputPath, packPath string, opts Options, state *JobState) (Result, error) {
	cb := opts.callback()

	dec, err := opener.OpenDecoder(sourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: open decoder: %w", err)
	}
	defer dec.Close()

	meta, err := dec.Probe(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: probe: %w", err)
	}
	state.Metadata = meta
	cb(Event{Type: EventMetadata, Data: map[string]any{
		"fps": meta.FPS, "width": meta.Width, "height": meta.Height, "total_frames": meta.TotalFrames,
	}})

	enc, err := opener.OpenEncoder(outputPath, "mp4v", meta.FPS, meta.Width, meta.Height)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: open encoder: %w", err)
	}

	pack, err := datapack.Create(packPath, meta.FPS, uint32(meta.Width), uint32(meta.Height))
	if err != nil {
		enc.Close()
		return Result{}, fmt.Errorf("pipeline: create pack: %w", err)
	}

	w := &worker{
		aesKey:           opts.AESKey,
		style:            opts.Style,
		trackerFactory:   opts.trackerFactory(),
		initialROIs:      opts.ManualROIs,
		detector:         opts.Detector,
		detectorEnabled:  !opts.DisableDetector && opts.Detector != nil,
		sensitiveClasses: opts.sensitiveClassSet(),
		onEvent:          cb,
		metrics:          opts.Metrics,
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	decFrames, decErrs := dec.Frames(jobCtx)
	frames := make(chan *frame.Frame, queueCapacity)
	go func() {
		defer close(frames)
		for f := range decFrames {
			select {
			case frames <- f:
			case <-jobCtx.Done():
				return
			}
		}
	}()
	processed := make(chan frameResult, queueCapacity)
	workerErrs := make(chan error, 1)

	go runWorkerStage(jobCtx, state, w, frames, processed, workerErrs, opts.Metrics)

	framesWritten, consumeErr := runConsumerStage(jobCtx, state, enc, pack, opts.HMACKey, processed, cb, opts.Metrics)

	// Stage errors surface through whichever channel produced one; decoder
	// errors take priority since they explain why frames stopped arriving.
	var stageErr error
	select {
	case err := <-decErrs:
		stageErr = err
	default:
	}
	if stageErr == nil {
		select {
		case err := <-workerErrs:
			stageErr = err
		default:
		}
	}
	if stageErr == nil {
		stageErr = consumeErr
	}

	if stageErr != nil {
		cancel()
		enc.Close()
		pack.Close()
		cleanupPartial(outputPath, packPath)
		cb(Event{Type: EventError, Data: map[string]any{"error": stageErr.Error()}})
		return Result{}, stageErr
	}

	if state.Cancel.Cancelled() {
		enc.Close()
		pack.Close()
		cb(Event{Type: EventCancelled, Data: nil})
		return Result{FramesWritten: framesWritten}, nil
	}

	cb(Event{Type: EventFinalizing, Data: nil})
	if err := enc.Close(); err != nil {
		pack.Close()
		return Result{}, fmt.Errorf("pipeline: close encoder: %w", err)
	}
	digest, err := pack.Finalize(opts.HMACKey)
	if err != nil {
		pack.Close()
		return Result{}, fmt.Errorf("pipeline: finalize pack: %w", err)
	}
	if err := pack.Close(); err != nil {
		return Result{}, fmt.Errorf("pipeline: close pack: %w", err)
	}
	cb(Event{Type: EventFinalized, Data: map[string]any{"digest": fmt.Sprintf("%x", digest)}})

	result := Result{
		OutputPath:    outputPath,
		DataPackPath:  packPath,
		FramesWritten: framesWritten,
		PackDigest:    digest,
	}

	if opts.EmbedPack {
		embedded, err := mp4box.Embed(outputPath, packPath, opts.EmbeddedOutputPath)
		if err != nil {
			return result, fmt.Errorf("pipeline: embed pack: %w", err)
		}
		result.EmbeddedIn = embedded
		cb(Event{Type: EventCompleted, Data: map[string]any{"embedded_output": embedded}})
	} else {
		cb(Event{Type: EventCompleted, Data: nil})
	}

	return result, nil
}

// runWorkerStage is Stage 2 (spec §4.5): it pulls frames off frameQ, applies
// C6's per-frame logic, and pushes the result onto processedQ. Exactly one
// worker goroutine runs per job (see Options.Workers).
func runWorkerStage(ctx context.Context, state *JobState, w *worker, in <-chan *frame.Frame, out chan<- frameResult, errs chan<- error, metrics *Metrics) {
	defer close(out)

	for {
		if state.Cancel.Cancelled() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case f, ok := <-in:
			if !ok {
				return
			}
			result, err := w.processFrame(ctx, f)
			if err != nil {
				select {
				case errs <- err:
				default:
				}
				return
			}
			select {
			case out <- result:
				if metrics != nil {
					metrics.QueueDepth.Set(float64(len(out)))
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// runConsumerStage is Stage 3 (spec §4.5): it writes each processed frame to
// the video encoder and its region metadata to the data pack, in strictly
// increasing frame order (guaranteed by the single-worker topology), and
// reports progress.
func runConsumerStage(ctx context.Context, state *JobState, enc videoio.Encoder, pack *datapack.Writer, hmacKey []byte, in <-chan frameResult, cb StatusCallback, metrics *Metrics) (int64, error) {
	var written int64

	for {
		if state.Cancel.Cancelled() {
			return written, nil
		}
		select {
		case <-ctx.Done():
			return written, nil
		case r, ok := <-in:
			if !ok {
				return written, nil
			}
			if err := enc.Write(r.frame); err != nil {
				return written, fmt.Errorf("pipeline: write frame %d: %w", r.index, err)
			}
			if len(r.regions) > 0 {
				if err := pack.WriteFrameData(r.index, r.regions); err != nil {
					return written, fmt.Errorf("pipeline: write pack entry %d: %w", r.index, err)
				}
			}
			written = state.incProcessed()
			if metrics != nil {
				metrics.FramesProcessed.Inc()
				metrics.QueueDepth.Set(float64(len(in)))
			}
			cb(Event{Type: EventProgress, Data: map[string]any{
				"frame_index": r.index, "processed": written,
			}})
		}
	}
}

// cleanupPartial removes a partially written output on a failed job, mirroring
// the teacher's "don't leave half-written media behind" cleanup in its own
// transcode error paths.
func cleanupPartial(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		_ = os.Remove(p)
	}
}
