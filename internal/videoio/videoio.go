// Package videoio defines the decoder/encoder contract spec §6 assigns to
// an external collaborator, plus a concrete implementation that pipes raw
// frames through an ffmpeg subprocess (grounded in the teacher pack's
// exec.Command-based ffmpeg/ffprobe usage — see internal/materializer and
// internal/plex in the teacher, and the frame_extractor.go /
// transcoder.go pattern in the wider retrieval pack).
package videoio

import (
	"context"

	"github.com/revanon/revanon/internal/frame"
)

// Metadata describes a source video's probed properties (spec §3 "Pipeline
// job state": metadata_probe).
type Metadata struct {
	FPS         float64
	Width       int
	Height      int
	TotalFrames int // 0 if unknown/unreported by the container
}

// Decoder produces frames from a video file in input order (spec §4.5 Stage 1
// "Decoder").
type Decoder interface {
	// Probe returns the source's metadata without necessarily decoding any
	// frames; safe to call before Frames.
	Probe(ctx context.Context) (Metadata, error)

	// Frames returns a channel of decoded frames in strictly increasing
	// Frame.Index order, closed when decoding finishes or ctx is cancelled.
	// Decode errors are delivered on the returned error channel; at most one
	// error is ever sent before both channels close.
	Frames(ctx context.Context) (<-chan *frame.Frame, <-chan error)

	// Close releases the decoder's resources (spec §5 "Resource release").
	Close() error
}

// Encoder writes frames to an output video file at a fixed resolution and
// frame rate (spec §6 "Video encoder interface").
type Encoder interface {
	// Write appends one frame in BGR order.
	Write(f *frame.Frame) error

	// Close flushes and releases the encoder (spec §5 "Resource release").
	// Must produce an MP4 suitable for mp4box.Embed to append a UUID box.
	Close() error
}

// Opener constructs Decoders and Encoders; implementations choose how
// (ffmpeg subprocess, cgo bindings, in-memory fakes for tests).
type Opener interface {
	OpenDecoder(path string) (Decoder, error)
	OpenEncoder(path string, fourcc string, fps float64, width, height int) (Encoder, error)
}
