package videoio

import (
	"context"
	"fmt"

	"github.com/revanon/revanon/internal/frame"
)

// MemoryOpener is a test/diagnostic Opener backed entirely by in-memory
// frame slices instead of a real ffmpeg subprocess — the Go analogue of the
// original source's validate_video_io.py smoke script (spec's supplemented
// features, E4): it exercises the Decoder/Encoder contract without needing a
// video toolchain on the test machine.
type MemoryOpener struct {
	// Sources maps a logical path to its pre-decoded frames and metadata,
	// populated by the caller before Frames/Probe is invoked.
	Sources map[string]MemorySource

	// Sinks accumulates frames written by OpenEncoder, keyed by path.
	Sinks map[string]*MemorySink
}

// MemorySource is a canned decoder input.
type MemorySource struct {
	Metadata Metadata
	Frames   []*frame.Frame
}

// MemorySink collects frames written through Encoder.Write.
type MemorySink struct {
	Width, Height int
	FPS           float64
	Frames        []*frame.Frame
	closed        bool
}

func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{
		Sources: make(map[string]MemorySource),
		Sinks:   make(map[string]*MemorySink),
	}
}

func (o *MemoryOpener) OpenDecoder(path string) (Decoder, error) {
	src, ok := o.Sources[path]
	if !ok {
		return nil, fmt.Errorf("videoio: no memory source registered for %q", path)
	}
	return &memoryDecoder{src: src}, nil
}

func (o *MemoryOpener) OpenEncoder(path, fourcc string, fps float64, width, height int) (Encoder, error) {
	sink := &MemorySink{Width: width, Height: height, FPS: fps}
	o.Sinks[path] = sink
	return sink, nil
}

type memoryDecoder struct {
	src MemorySource
}

func (d *memoryDecoder) Probe(ctx context.Context) (Metadata, error) {
	return d.src.Metadata, nil
}

func (d *memoryDecoder) Frames(ctx context.Context) (<-chan *frame.Frame, <-chan error) {
	out := make(chan *frame.Frame)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		for _, f := range d.src.Frames {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, errc
}

func (d *memoryDecoder) Close() error { return nil }

func (s *MemorySink) Write(f *frame.Frame) error {
	if s.closed {
		return fmt.Errorf("videoio: write to closed memory sink")
	}
	if f.Width != s.Width || f.Height != s.Height {
		return fmt.Errorf("videoio: frame %dx%d does not match sink size %dx%d", f.Width, f.Height, s.Width, s.Height)
	}
	s.Frames = append(s.Frames, f.Clone())
	return nil
}

func (s *MemorySink) Close() error {
	s.closed = true
	return nil
}
