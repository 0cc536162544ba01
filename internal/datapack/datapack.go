// Package datapack implements the framed, length-prefixed, HMAC-sealed
// sidecar metadata container described in spec §4.2 (C2): the "data pack".
//
// On-disk layout (version 1, big-endian integers):
//
//	magic        8 bytes  = "RVAPACK1"
//	version      u16      = 1 (or 2 for the brotli-compressed body variant)
//	fps          f64
//	width        u32
//	height       u32
//	--- repeat zero or more FrameEntry ---
//	FrameEntry   frame_index:u32, region_count:u32, Region[region_count]
//	Region       label_len:u16, label:utf8, confidence:f32,
//	             x1:u32, y1:u32, x2:u32, y2:u32, source:u8 (0=detection, 1=manual),
//	             cipher_len:u32, cipher:bytes[cipher_len]
//	--- end marker: frame_index=0xFFFFFFFF, region_count=0 ---
//	trailer      hmac_sha256(hmac_key, all preceding bytes) (32 bytes)
//
// Version 2 brotli-compresses everything between the header and the end
// marker (inclusive) as a single stream; the trailer still authenticates the
// exact serialized prefix (header bytes + compressed body bytes), satisfying
// invariant I5 unchanged.
package datapack

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic is the fixed 8-byte file signature.
	Magic = "RVAPACK1"

	versionPlain  = 1
	versionBrotli = 2

	endMarkerFrameIndex uint32 = 0xFFFFFFFF

	trailerLen = 32
)

// Source identifies whether a region came from the object detector or a
// manually-tracked ROI.
type Source uint8

const (
	SourceDetection Source = 0
	SourceManual    Source = 1
)

func (s Source) String() string {
	if s == SourceManual {
		return "manual"
	}
	return "detection"
}

// Region is one stored region record (spec §3 "Region").
type Region struct {
	Label      string
	Confidence float32
	X1, Y1, X2, Y2 int
	Source     Source
	Ciphertext []byte
}

// FrameRecord is one frame's region list (spec §3 "FrameRecord"). Frames
// with no regions are never written to the pack.
type FrameRecord struct {
	FrameIndex int
	Regions    []Region
}

// Header is the pack's fixed-size preamble.
type Header struct {
	FPS    float64
	Width  uint32
	Height uint32
}

// Sentinel errors per spec §4.2 "Failure modes" and §7's taxonomy.
var (
	ErrTruncated       = errors.New("datapack: truncated body")
	ErrMalformed       = errors.New("datapack: malformed framing")
	ErrAuthFailed      = errors.New("datapack: HMAC trailer mismatch")
	ErrAlreadyFinal    = errors.New("datapack: writer already finalized")
	ErrNotFinalized    = errors.New("datapack: pack has no trailer (never finalized)")
	ErrBadMagic        = errors.New("datapack: bad magic")
	ErrUnsupportedVers = errors.New("datapack: unsupported version")
)

func encodeHeader(version uint16, h Header) []byte {
	buf := make([]byte, 0, 8+2+8+4+4)
	buf = append(buf, []byte(Magic)...)
	buf = binary.BigEndian.AppendUint16(buf, version)
	buf = binary.BigEndian.AppendUint64(buf, mathFloat64bits(h.FPS))
	buf = binary.BigEndian.AppendUint32(buf, h.Width)
	buf = binary.BigEndian.AppendUint32(buf, h.Height)
	return buf
}

func encodeFrameEntry(r FrameRecord) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.FrameIndex))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Regions)))
	for _, region := range r.Regions {
		encoded, err := encodeRegion(region)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

func encodeRegion(r Region) ([]byte, error) {
	if len(r.Label) > 0xFFFF {
		return nil, fmt.Errorf("datapack: label too long (%d bytes)", len(r.Label))
	}
	buf := make([]byte, 0, 2+len(r.Label)+4+16+1+4+len(r.Ciphertext))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Label)))
	buf = append(buf, []byte(r.Label)...)
	buf = binary.BigEndian.AppendUint32(buf, float32bits(r.Confidence))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.X1))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Y1))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.X2))
	buf = binary.BigEndian.AppendUint32(buf, uint32(r.Y2))
	buf = append(buf, byte(r.Source))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(r.Ciphertext)))
	buf = append(buf, r.Ciphertext...)
	return buf, nil
}

func encodeEndMarker() []byte {
	buf := make([]byte, 0, 8)
	buf = binary.BigEndian.AppendUint32(buf, endMarkerFrameIndex)
	buf = binary.BigEndian.AppendUint32(buf, 0)
	return buf
}
