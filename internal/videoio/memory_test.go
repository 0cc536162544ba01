package videoio

import (
	"context"
	"testing"

	"github.com/revanon/revanon/internal/frame"
)

func TestMemoryOpener_decodeEncodeRoundtrip(t *testing.T) {
	opener := NewMemoryOpener()

	var frames []*frame.Frame
	for i := 0; i < 5; i++ {
		f := frame.New(i, 4, 4)
		for j := range f.Pix {
			f.Pix[j] = byte(i)
		}
		frames = append(frames, f)
	}
	opener.Sources["in.mp4"] = MemorySource{
		Metadata: Metadata{FPS: 30, Width: 4, Height: 4, TotalFrames: 5},
		Frames:   frames,
	}

	dec, err := opener.OpenDecoder("in.mp4")
	if err != nil {
		t.Fatalf("OpenDecoder: %v", err)
	}
	defer dec.Close()

	meta, err := dec.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if meta.Width != 4 || meta.Height != 4 || meta.TotalFrames != 5 {
		t.Fatalf("Probe = %+v, unexpected", meta)
	}

	enc, err := opener.OpenEncoder("out.mp4", "mp4v", 30, 4, 4)
	if err != nil {
		t.Fatalf("OpenEncoder: %v", err)
	}

	out, errc := dec.Frames(context.Background())
	var got []*frame.Frame
	for f := range out {
		got = append(got, f)
		if err := enc.Write(f); err != nil {
			t.Fatalf("enc.Write: %v", err)
		}
	}
	if err := <-errc; err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("enc.Close: %v", err)
	}

	if len(got) != 5 {
		t.Fatalf("decoded %d frames, want 5", len(got))
	}
	for i, f := range got {
		if f.Index != i {
			t.Fatalf("frame %d has Index %d", i, f.Index)
		}
	}

	sink := opener.Sinks["out.mp4"]
	if len(sink.Frames) != 5 {
		t.Fatalf("sink has %d frames, want 5", len(sink.Frames))
	}
}
