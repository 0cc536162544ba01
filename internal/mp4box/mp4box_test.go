package mp4box

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// fakeMP4 builds a minimal but structurally valid ISO-BMFF file: an `ftyp`
// box followed by a `free` box, with no uuid box. Good enough to exercise
// the box walker without a real video toolchain.
func fakeMP4(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")

	var buf bytes.Buffer
	writeBox(&buf, "ftyp", []byte("isommp42"))
	writeBox(&buf, "free", bytes.Repeat([]byte{0}, 16))

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func writeBox(buf *bytes.Buffer, boxType string, payload []byte) {
	size := uint32(8 + len(payload))
	binary.Write(buf, binary.BigEndian, size)
	buf.WriteString(boxType)
	buf.Write(payload)
}

func TestEmbedExtract_roundtrip(t *testing.T) {
	video := fakeMP4(t)
	dir := filepath.Dir(video)
	packPath := filepath.Join(dir, "meta.pack")
	packBytes := []byte("pretend-this-is-a-serialized-data-pack-with-some-bytes")
	if err := os.WriteFile(packPath, packBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	outPath := filepath.Join(dir, "out.mp4")
	target, err := Embed(video, packPath, outPath)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if target != outPath {
		t.Fatalf("Embed target = %q, want %q", target, outPath)
	}

	// Original video is untouched when outPath is given.
	if _, err := Extract(video); err != ErrNotFound {
		t.Fatalf("Extract(original) err = %v, want ErrNotFound (original must not gain the box)", err)
	}

	got, err := Extract(outPath)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(got, packBytes) {
		t.Fatalf("Extract mismatch: got %q want %q", got, packBytes)
	}
}

func TestEmbed_inPlace(t *testing.T) {
	video := fakeMP4(t)
	dir := filepath.Dir(video)
	packPath := filepath.Join(dir, "meta.pack")
	packBytes := []byte("in-place-pack-bytes")
	if err := os.WriteFile(packPath, packBytes, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	target, err := Embed(video, packPath, "")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if target != video {
		t.Fatalf("Embed target = %q, want %q", target, video)
	}

	got, err := Extract(video)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(got, packBytes) {
		t.Fatalf("Extract mismatch: got %q want %q", got, packBytes)
	}
}

func TestExtract_notFound(t *testing.T) {
	video := fakeMP4(t)
	if _, err := Extract(video); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExtract_largesizeBox(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")

	var buf bytes.Buffer
	// size=1 means a 64-bit largesize field follows the type.
	binary.Write(&buf, binary.BigEndian, uint32(1))
	buf.WriteString("mdat")
	payload := bytes.Repeat([]byte{0xAB}, 32)
	largesize := uint64(8 + 8 + len(payload))
	binary.Write(&buf, binary.BigEndian, largesize)
	buf.Write(payload)

	// Followed by the uuid box we're looking for.
	packBytes := []byte("payload-after-a-largesize-box")
	header := make([]byte, 0, 24)
	header = binary.BigEndian.AppendUint32(header, uint32(8+16+len(packBytes)))
	header = append(header, 'u', 'u', 'i', 'd')
	header = append(header, PackUUID[:]...)
	buf.Write(header)
	buf.Write(packBytes)

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !bytes.Equal(got, packBytes) {
		t.Fatalf("Extract mismatch: got %q want %q", got, packBytes)
	}
}

func TestExtract_malformedSizeTooSmall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")

	var buf bytes.Buffer
	// size smaller than the 8-byte header itself is invalid.
	binary.Write(&buf, binary.BigEndian, uint32(4))
	buf.WriteString("free")

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Extract(path); err != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestExtract_doesNotDescendIntoContainers(t *testing.T) {
	// A moov box containing a nested uuid box with the pack UUID must NOT be
	// found by Extract, since the walker only scans top-level boxes.
	dir := t.TempDir()
	path := filepath.Join(dir, "in.mp4")

	var nested bytes.Buffer
	nestedHeader := make([]byte, 0, 24)
	nestedHeader = binary.BigEndian.AppendUint32(nestedHeader, uint32(8+16+5))
	nestedHeader = append(nestedHeader, 'u', 'u', 'i', 'd')
	nestedHeader = append(nestedHeader, PackUUID[:]...)
	nested.Write(nestedHeader)
	nested.WriteString("hello")

	var buf bytes.Buffer
	writeBox(&buf, "moov", nested.Bytes())

	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Extract(path); err != ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound (walker must not descend into moov)", err)
	}
}
