package detect

import "context"

// FakeDetector returns a fixed, pre-scripted set of boxes on every call —
// used by pipeline/restore tests in place of a real model subprocess,
// mirroring the original source's IdentityModel test double.
type FakeDetector struct {
	Boxes []Box
	Calls int
}

func (d *FakeDetector) Detect(ctx context.Context, pix []byte, width, height int, verbose bool) ([]Box, error) {
	d.Calls++
	return d.Boxes, nil
}

func (d *FakeDetector) Close() error { return nil }
