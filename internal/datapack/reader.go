package datapack

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/andybalholm/brotli"

	"github.com/revanon/revanon/internal/cryptobox"
)

// Reader implements the "Reader contract" of spec §4.2: Open validates the
// header, Verify recomputes the HMAC over header and body, and IterFrames
// yields (frame_index, regions) one FrameEntry per call. Open reads the whole
// pack file into memory; Verify and IterFrames both work on that in-memory
// copy.
type Reader struct {
	path    string
	f       *os.File
	Header  Header
	version uint16

	headerBytes []byte // raw header bytes, needed to recompute the HMAC
	bodyBytes   []byte // raw (post-header, pre-trailer) bytes on disk
	trailer     [trailerLen]byte
}

// Open reads and validates the fixed header of path, but does not yet
// authenticate the body — call Verify for that.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("datapack: open %s: %w", path, err)
	}

	all, err := io.ReadAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("datapack: read %s: %w", path, err)
	}

	const headerLen = 8 + 2 + 8 + 4 + 4
	if len(all) < headerLen+trailerLen {
		f.Close()
		return nil, ErrTruncated
	}
	if string(all[:8]) != Magic {
		f.Close()
		return nil, ErrBadMagic
	}
	version := binary.BigEndian.Uint16(all[8:10])
	if version != versionPlain && version != versionBrotli {
		f.Close()
		return nil, ErrUnsupportedVers
	}

	fps := float64frombits(binary.BigEndian.Uint64(all[10:18]))
	width := binary.BigEndian.Uint32(all[18:22])
	height := binary.BigEndian.Uint32(all[22:26])

	body := all[headerLen : len(all)-trailerLen]
	var trailer [trailerLen]byte
	copy(trailer[:], all[len(all)-trailerLen:])

	r := &Reader{
		path:        path,
		f:           f,
		Header:      Header{FPS: fps, Width: width, Height: height},
		version:     version,
		headerBytes: all[:headerLen],
		bodyBytes:   body,
		trailer:     trailer,
	}
	return r, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	return r.f.Close()
}

// Verify recomputes the HMAC over the header and body under hmacKey and
// compares it in constant time against the stored trailer. It never panics
// or returns an error for a mismatch — only a bool, per spec §4.2.
func (r *Reader) Verify(hmacKey []byte) bool {
	buf := make([]byte, 0, len(r.headerBytes)+len(r.bodyBytes))
	buf = append(buf, r.headerBytes...)
	buf = append(buf, r.bodyBytes...)
	return cryptobox.VerifyHMAC(hmacKey, buf, r.trailer[:])
}

// decodedBodyReader returns a reader over the plain (decompressed, if
// necessary) FrameEntry stream, ending at (and including) the end marker.
func (r *Reader) decodedBodyReader() (io.Reader, error) {
	raw := io.Reader(bytes.NewReader(r.bodyBytes))
	if r.version == versionBrotli {
		return brotli.NewReader(raw), nil
	}
	return raw, nil
}

// IterFrames returns a lazy iterator over FrameRecords in ascending
// frame_index order. The returned function decodes one FrameEntry per call
// from the body bytes Open already read into memory (through a brotli
// decoder for version 2); decoded records are not retained between calls.
//
// Calling IterFrames after a failed Verify is permitted (spec §4.2) but the
// caller must not trust the results — Verify and IterFrames are
// independent passes over the same underlying bytes.
func (r *Reader) IterFrames() (func() (FrameRecord, bool, error), error) {
	body, err := r.decodedBodyReader()
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(body)

	prevIndex := -1
	started := false

	next := func() (FrameRecord, bool, error) {
		var head [8]byte
		if _, err := io.ReadFull(br, head[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return FrameRecord{}, false, ErrTruncated
			}
			return FrameRecord{}, false, err
		}
		frameIndex := binary.BigEndian.Uint32(head[:4])
		regionCount := binary.BigEndian.Uint32(head[4:8])

		if frameIndex == endMarkerFrameIndex && regionCount == 0 {
			return FrameRecord{}, false, nil
		}

		if started && int(frameIndex) <= prevIndex {
			return FrameRecord{}, false, ErrMalformed
		}
		started = true
		prevIndex = int(frameIndex)

		regions := make([]Region, 0, regionCount)
		for i := uint32(0); i < regionCount; i++ {
			region, err := decodeRegion(br)
			if err != nil {
				return FrameRecord{}, false, err
			}
			regions = append(regions, region)
		}

		return FrameRecord{FrameIndex: int(frameIndex), Regions: regions}, true, nil
	}

	return next, nil
}

func decodeRegion(br *bufio.Reader) (Region, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
		return Region{}, eofToTruncated(err)
	}
	labelLen := binary.BigEndian.Uint16(lenBuf[:])
	label := make([]byte, labelLen)
	if _, err := io.ReadFull(br, label); err != nil {
		return Region{}, eofToTruncated(err)
	}

	var fixed [4 + 16 + 1 + 4]byte
	if _, err := io.ReadFull(br, fixed[:]); err != nil {
		return Region{}, eofToTruncated(err)
	}
	confidence := float32frombits(binary.BigEndian.Uint32(fixed[0:4]))
	x1 := binary.BigEndian.Uint32(fixed[4:8])
	y1 := binary.BigEndian.Uint32(fixed[8:12])
	x2 := binary.BigEndian.Uint32(fixed[12:16])
	y2 := binary.BigEndian.Uint32(fixed[16:20])
	source := Source(fixed[20])
	cipherLen := binary.BigEndian.Uint32(fixed[21:25])

	// A cipher_len larger than any plausible region (>256MiB) is almost
	// certainly a corrupted length prefix, not a legitimate region.
	const maxSaneCipherLen = 256 << 20
	if cipherLen > maxSaneCipherLen {
		return Region{}, ErrMalformed
	}

	cipher := make([]byte, cipherLen)
	if _, err := io.ReadFull(br, cipher); err != nil {
		return Region{}, eofToTruncated(err)
	}

	return Region{
		Label:      string(label),
		Confidence: confidence,
		X1:         int(x1),
		Y1:         int(y1),
		X2:         int(x2),
		Y2:         int(y2),
		Source:     source,
		Ciphertext: cipher,
	}, nil
}

func eofToTruncated(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncated
	}
	return err
}
