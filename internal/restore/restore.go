// Package restore implements the reverse of internal/pipeline (spec §4.8,
// C7): given the anonymized video and its data pack, decrypt and paste back
// every stored region to recover the original pixels bit-exactly within
// each region.
package restore

import (
	"context"
	"errors"
	"fmt"

	"github.com/revanon/revanon/internal/cryptobox"
	"github.com/revanon/revanon/internal/datapack"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/videoio"
)

// ErrAuthFailed is returned immediately, before any frame is written, when
// the pack's HMAC trailer does not authenticate under the given key (spec
// §4.8 "fails fast if invalid").
var ErrAuthFailed = errors.New("restore: data pack failed HMAC authentication")

// Options configures one restore job.
type Options struct {
	AESKey  []byte
	HMACKey []byte

	// OnLog receives human-readable progress/warning lines (e.g. the
	// resolution-mismatch warning below), mirroring the teacher's
	// log.Printf-based status reporting.
	OnLog func(string)
}

// Result reports what Run wrote.
type Result struct {
	FramesWritten  int64
	RegionsPasted  int64
	RegionsSkipped int64 // degenerate after resolution-mismatch clamping
}

func (o Options) logf(format string, args ...any) {
	if o.OnLog != nil {
		o.OnLog(fmt.Sprintf(format, args...))
	}
}

// Run restores anonymizedPath using packPath's region ciphertexts, writing
// the recovered video to outputPath (spec §4.8).
func Run(ctx context.Context, opener videoio.Opener, anonymizedPath, packPath, outputPath string, opts Options) (Result, error) {
	reader, err := datapack.Open(packPath)
	if err != nil {
		return Result{}, fmt.Errorf("restore: open pack: %w", err)
	}
	defer reader.Close()

	if !reader.Verify(opts.HMACKey) {
		return Result{}, ErrAuthFailed
	}

	regionsByFrame, err := buildFrameIndex(reader)
	if err != nil {
		return Result{}, fmt.Errorf("restore: read pack: %w", err)
	}

	dec, err := opener.OpenDecoder(anonymizedPath)
	if err != nil {
		return Result{}, fmt.Errorf("restore: open decoder: %w", err)
	}
	defer dec.Close()

	meta, err := dec.Probe(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("restore: probe: %w", err)
	}

	if meta.Width != int(reader.Header.Width) || meta.Height != int(reader.Header.Height) {
		opts.logf("restore: video resolution %dx%d disagrees with pack header %dx%d; using video dimensions, clamping boxes",
			meta.Width, meta.Height, reader.Header.Width, reader.Header.Height)
	}

	enc, err := opener.OpenEncoder(outputPath, "mp4v", meta.FPS, meta.Width, meta.Height)
	if err != nil {
		return Result{}, fmt.Errorf("restore: open encoder: %w", err)
	}

	frames, decErrs := dec.Frames(ctx)
	var result Result

	for f := range frames {
		regions := regionsByFrame[f.Index]
		for _, region := range regions {
			stored := frame.Bbox{X1: region.X1, Y1: region.Y1, X2: region.X2, Y2: region.Y2}
			bbox := stored.Clamp(meta.Width, meta.Height)
			if bbox.Empty() {
				result.RegionsSkipped++
				continue
			}
			expectedLen := stored.Width() * stored.Height() * 3
			plain, err := cryptobox.Open(region.Ciphertext, opts.AESKey, expectedLen)
			if err != nil {
				enc.Close()
				return result, fmt.Errorf("restore: decrypt region at frame %d: %w", f.Index, err)
			}
			if bbox != stored {
				// Keep only the part of the stored region inside the video.
				full := &frame.Frame{Width: stored.Width(), Height: stored.Height(), Pix: plain}
				plain, _ = full.ROI(frame.Bbox{X1: bbox.X1 - stored.X1, Y1: bbox.Y1 - stored.Y1, X2: bbox.X2 - stored.X1, Y2: bbox.Y2 - stored.Y1})
			}
			if err := f.PasteROI(bbox, plain); err != nil {
				enc.Close()
				return result, fmt.Errorf("restore: paste region at frame %d: %w", f.Index, err)
			}
			result.RegionsPasted++
		}

		if err := enc.Write(f); err != nil {
			enc.Close()
			return result, fmt.Errorf("restore: write frame %d: %w", f.Index, err)
		}
		result.FramesWritten++
	}

	if err := <-decErrs; err != nil {
		enc.Close()
		return result, fmt.Errorf("restore: decode: %w", err)
	}

	if err := enc.Close(); err != nil {
		return result, fmt.Errorf("restore: close encoder: %w", err)
	}
	return result, nil
}

func buildFrameIndex(reader *datapack.Reader) (map[int][]datapack.Region, error) {
	next, err := reader.IterFrames()
	if err != nil {
		return nil, err
	}
	index := make(map[int][]datapack.Region)
	for {
		rec, ok, err := next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		index[rec.FrameIndex] = rec.Regions
	}
	return index, nil
}
