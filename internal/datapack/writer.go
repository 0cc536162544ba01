package datapack

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"

	"github.com/revanon/revanon/internal/cryptobox"
)

// WriterOption configures a Writer at construction time.
type WriterOption func(*writerConfig)

type writerConfig struct {
	brotli bool
}

// WithBrotli enables the version-2 brotli-compressed body variant (see the
// package doc comment). Off by default — the canonical wire format in
// spec §4.2 is version 1, uncompressed.
func WithBrotli() WriterOption {
	return func(c *writerConfig) { c.brotli = true }
}

// Writer implements the "Writer contract" of spec §4.2: write_frame_data
// must be called with strictly increasing frame indices; finalize writes
// the end marker and HMAC trailer exactly once.
type Writer struct {
	f          *os.File
	bw         *bufio.Writer
	compressed *brotli.Writer // non-nil only in brotli mode
	version    uint16

	lastFrameIndex int
	haveWritten    bool
	finalized      bool

	// hasher accumulates every byte written to the pack (header + body, in
	// version order) so finalize can compute the HMAC trailer without a
	// second read pass.
	hasher *trackingWriter
}

// trackingWriter mirrors every Write into an in-memory running HMAC input
// buffer via an io.Writer sink supplied by the caller (cryptobox.HMACSHA256
// needs the whole buffer, so for jobs of reasonable size — bounded by video
// length — we simply buffer the serialized bytes).
type trackingWriter struct {
	buf []byte
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	return len(p), nil
}

// Create opens path for writing and emits the fixed header. fps/width/height
// populate the pack's header record (spec §3 "DataPack").
func Create(path string, fps float64, width, height uint32, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("datapack: create %s: %w", path, err)
	}

	version := uint16(versionPlain)
	if cfg.brotli {
		version = versionBrotli
	}

	w := &Writer{
		f:              f,
		lastFrameIndex: -1,
		version:        version,
		hasher:         &trackingWriter{},
	}

	headerBytes := encodeHeader(version, Header{FPS: fps, Width: width, Height: height})
	if _, err := w.hasher.Write(headerBytes); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(headerBytes); err != nil {
		f.Close()
		return nil, fmt.Errorf("datapack: write header: %w", err)
	}

	if cfg.brotli {
		// The body (everything after the header, up to and including the end
		// marker) is compressed as one brotli stream; the file still records
		// every compressed byte in the hasher so the trailer authenticates
		// exactly what is on disk.
		w.bw = bufio.NewWriter(io.MultiWriter(f, w.hasher))
		w.compressed = brotli.NewWriter(w.bw)
	} else {
		w.bw = bufio.NewWriter(io.MultiWriter(f, w.hasher))
	}

	return w, nil
}

func (w *Writer) bodyWriter() io.Writer {
	if w.compressed != nil {
		return w.compressed
	}
	return w.bw
}

// WriteFrameData appends one FrameEntry. i must be strictly greater than the
// frame index of any previous call (spec §4.2 "Writer contract").
func (w *Writer) WriteFrameData(i int, regions []Region) error {
	if w.finalized {
		return ErrAlreadyFinal
	}
	if w.haveWritten && i <= w.lastFrameIndex {
		return fmt.Errorf("datapack: frame index %d is not strictly increasing after %d", i, w.lastFrameIndex)
	}

	entry, err := encodeFrameEntry(FrameRecord{FrameIndex: i, Regions: regions})
	if err != nil {
		return err
	}
	if _, err := w.bodyWriter().Write(entry); err != nil {
		return fmt.Errorf("datapack: write frame %d: %w", i, err)
	}

	w.lastFrameIndex = i
	w.haveWritten = true
	return nil
}

// Finalize writes the end marker and the HMAC trailer over every preceding
// byte (header + body), returning the 32-byte digest. Calling Finalize twice
// fails with ErrAlreadyFinal.
func (w *Writer) Finalize(hmacKey []byte) ([32]byte, error) {
	var digest [32]byte
	if w.finalized {
		return digest, ErrAlreadyFinal
	}

	if _, err := w.bodyWriter().Write(encodeEndMarker()); err != nil {
		return digest, fmt.Errorf("datapack: write end marker: %w", err)
	}
	if w.compressed != nil {
		if err := w.compressed.Close(); err != nil {
			return digest, fmt.Errorf("datapack: close brotli stream: %w", err)
		}
	}
	if err := w.bw.Flush(); err != nil {
		return digest, fmt.Errorf("datapack: flush: %w", err)
	}

	digest = cryptobox.HMACSHA256(hmacKey, w.hasher.buf)
	if _, err := w.f.Write(digest[:]); err != nil {
		return digest, fmt.Errorf("datapack: write trailer: %w", err)
	}

	w.finalized = true
	return digest, nil
}

// Close releases the underlying file handle. Safe to call after Finalize,
// and via defer regardless of whether Finalize was reached (spec §5
// "Resource release").
func (w *Writer) Close() error {
	return w.f.Close()
}
