// Package mp4box implements the MP4 UUID-box packager described in spec
// §4.3 (C3): embedding the data pack inside an MP4 file as a custom
// top-level `uuid` box, and extracting it back.
package mp4box

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// PackUUID is the fixed 16-byte identifier for revanon's data-pack box,
// matching the constant in spec §4.3.
var PackUUID = uuid.MustParse("1f0cf7d5-1c3c-4e25-ba9d-5cb0fc61f847")

const (
	boxHeaderLen      = 8  // size:u32 + type:4s
	uuidFieldLen      = 16
	largesizeFieldLen = 8
)

// Sentinel errors per spec §4.3 and §7.
var (
	ErrNotFound       = errors.New("mp4box: uuid box not found")
	ErrMalformed      = errors.New("mp4box: malformed box size")
	ErrPayloadTooLarge = errors.New("mp4box: payload too large for a 32-bit box size")
)

// Embed appends a top-level ISO-BMFF `uuid` box containing packPath's raw
// bytes to the end of videoPath. If outPath is non-empty, videoPath is
// copied to outPath first and the box is appended there, leaving videoPath
// untouched; otherwise videoPath is mutated in place.
func Embed(videoPath, packPath, outPath string) (string, error) {
	payload, err := os.ReadFile(packPath)
	if err != nil {
		return "", fmt.Errorf("mp4box: read pack %s: %w", packPath, err)
	}

	boxSize := uint64(boxHeaderLen) + uuidFieldLen + uint64(len(payload))
	if boxSize >= 1<<32 {
		return "", ErrPayloadTooLarge
	}

	target := videoPath
	if outPath != "" {
		if err := copyFile(videoPath, outPath); err != nil {
			return "", err
		}
		target = outPath
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return "", fmt.Errorf("mp4box: open %s for append: %w", target, err)
	}
	defer f.Close()

	header := make([]byte, 0, boxHeaderLen+uuidFieldLen)
	header = binary.BigEndian.AppendUint32(header, uint32(boxSize))
	header = append(header, 'u', 'u', 'i', 'd')
	header = append(header, PackUUID[:]...)

	if _, err := f.Write(header); err != nil {
		return "", fmt.Errorf("mp4box: write box header: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		return "", fmt.Errorf("mp4box: write box payload: %w", err)
	}
	return target, nil
}

// Extract walks videoPath's top-level ISO-BMFF boxes from offset 0 and
// returns the payload of the first `uuid` box whose identifier equals
// PackUUID. It never descends into container boxes (spec §4.3).
func Extract(videoPath string) ([]byte, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return nil, fmt.Errorf("mp4box: open %s: %w", videoPath, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("mp4box: stat %s: %w", videoPath, err)
	}
	fileSize := fi.Size()

	var offset int64
	for offset < fileSize {
		header := make([]byte, boxHeaderLen)
		if _, err := io.ReadFull(f, header); err != nil {
			break // trailing bytes shorter than a box header: stop walking
		}
		size64 := uint64(binary.BigEndian.Uint32(header[:4]))
		boxType := string(header[4:8])
		headerLen := int64(boxHeaderLen)
		offset += boxHeaderLen

		if size64 == 1 {
			var largesize [largesizeFieldLen]byte
			if _, err := io.ReadFull(f, largesize[:]); err != nil {
				return nil, fmt.Errorf("mp4box: read largesize: %w", err)
			}
			size64 = binary.BigEndian.Uint64(largesize[:])
			headerLen += largesizeFieldLen
			offset += largesizeFieldLen
		} else if size64 == 0 {
			size64 = uint64(fileSize-offset) + uint64(headerLen)
		}

		if size64 < uint64(headerLen) {
			return nil, ErrMalformed
		}
		payloadSize := int64(size64) - headerLen

		if boxType == "uuid" {
			var idBytes [uuidFieldLen]byte
			if _, err := io.ReadFull(f, idBytes[:]); err != nil {
				return nil, fmt.Errorf("mp4box: read uuid field: %w", err)
			}
			offset += uuidFieldLen
			payloadSize -= uuidFieldLen
			if payloadSize < 0 {
				return nil, ErrMalformed
			}

			if uuid.UUID(idBytes) == PackUUID {
				payload := make([]byte, payloadSize)
				if _, err := io.ReadFull(f, payload); err != nil {
					return nil, fmt.Errorf("mp4box: read uuid payload: %w", err)
				}
				return payload, nil
			}
			if _, err := f.Seek(payloadSize, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("mp4box: seek past uuid payload: %w", err)
			}
			offset += payloadSize
			continue
		}

		if _, err := f.Seek(payloadSize, io.SeekCurrent); err != nil {
			return nil, fmt.Errorf("mp4box: seek past box payload: %w", err)
		}
		offset += payloadSize
	}

	return nil, ErrNotFound
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("mp4box: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("mp4box: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("mp4box: copy %s -> %s: %w", src, dst, err)
	}
	return out.Close()
}
