package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/pipeline"
	"github.com/revanon/revanon/internal/progress"
	"github.com/revanon/revanon/internal/videoio"
)

func testKeysHex() (string, string) {
	aes := make([]byte, 32)
	hmac := make([]byte, 32)
	for i := range aes {
		aes[i] = byte(i)
		hmac[i] = byte(255 - i)
	}
	return hex.EncodeToString(aes), hex.EncodeToString(hmac)
}

func newTestService(t *testing.T, out *bytes.Buffer) (*Service, *videoio.MemoryOpener) {
	t.Helper()
	opener := videoio.NewMemoryOpener()
	return &Service{
		Opener:  opener,
		Emitter: progress.NewEmitter(out, 1000),
	}, opener
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func eventsOfType(lines []map[string]any, event string) []map[string]any {
	var out []map[string]any
	for _, l := range lines {
		if l["event"] == event {
			out = append(out, l)
		}
	}
	return out
}

// TestRun_startThenShutdownCancelsInFlightJob mirrors anonymize_service.py's
// shutdown(): it sets every running job's cancel flag and joins its thread
// before returning, rather than letting the job finish on its own.
func TestRun_startThenShutdownCancelsInFlightJob(t *testing.T) {
	const w, h, n = 16, 16, 3
	var out bytes.Buffer
	svc, opener := newTestService(t, &out)
	opener.Sources["in.mp4"] = videoio.MemorySource{
		Metadata: videoio.Metadata{FPS: 30, Width: w, Height: h},
		Frames:   solidFrames(n, w, h, 42),
	}

	aesHex, hmacHex := testKeysHex()
	payload, _ := json.Marshal(map[string]any{
		"inputPath":        "in.mp4",
		"outputPath":       "out.mp4",
		"dataPackPath":     "out.pack",
		"aesKey":           aesHex,
		"hmacKey":          hmacHex,
		"style":            "blur",
		"disableDetection": true,
	})
	cmd, _ := json.Marshal(map[string]any{"type": "start", "jobId": "job-1", "payload": json.RawMessage(payload)})

	input := bytes.NewBufferString(string(cmd) + "\n" + `{"type":"shutdown"}` + "\n")
	if err := svc.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := decodeLines(t, &out)
	if len(eventsOfType(lines, "started")) != 1 {
		t.Fatalf("expected exactly one started event, got lines: %+v", lines)
	}
	if len(eventsOfType(lines, "cancelled")) != 1 {
		t.Fatalf("expected the in-flight job to be cancelled by shutdown, got lines: %+v", lines)
	}
	if len(eventsOfType(lines, "exit")) != 1 {
		t.Fatalf("expected one exit event, got %+v", lines)
	}
}

func TestRun_jobRunsToCompletionWithoutShutdown(t *testing.T) {
	const w, h, n = 16, 16, 3
	var out bytes.Buffer
	svc, opener := newTestService(t, &out)
	opener.Sources["in.mp4"] = videoio.MemorySource{
		Metadata: videoio.Metadata{FPS: 30, Width: w, Height: h},
		Frames:   solidFrames(n, w, h, 42),
	}

	aesHex, hmacHex := testKeysHex()
	payload := startPayload{
		InputPath: "in.mp4", OutputPath: "out.mp4", DataPackPath: "out.pack",
		AESKeyHex: aesHex, HMACKeyHex: hmacHex, DisableDetection: true,
	}
	state := &pipeline.JobState{}
	handle := &jobHandle{state: state, done: make(chan struct{})}

	opts, err := svc.buildOptions("job-1", payload)
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	svc.runJob(context.Background(), "job-1", payload, opts, state, handle)

	lines := decodeLines(t, &out)
	if len(eventsOfType(lines, "started")) != 1 {
		t.Fatalf("expected runJob to emit exactly one started event, got %+v", lines)
	}
	if len(eventsOfType(lines, "completed")) != 1 {
		t.Fatalf("expected one completed event, got %+v", lines)
	}
	exits := eventsOfType(lines, "exit")
	if len(exits) != 1 || exits[0]["code"] != float64(0) {
		t.Fatalf("expected exit code=0, got %+v", exits)
	}
}

func TestRun_secondStartWhileRunningIsRejected(t *testing.T) {
	var out bytes.Buffer
	svc, opener := newTestService(t, &out)
	opener.Sources["in.mp4"] = videoio.MemorySource{
		Metadata: videoio.Metadata{FPS: 30, Width: 8, Height: 8},
		Frames:   solidFrames(5, 8, 8, 1),
	}

	aesHex, hmacHex := testKeysHex()
	startPayload, _ := json.Marshal(map[string]any{
		"inputPath": "in.mp4", "outputPath": "out.mp4", "dataPackPath": "out.pack",
		"aesKey": aesHex, "hmacKey": hmacHex, "disableDetection": true,
	})

	svc.mu.Lock()
	svc.job = &jobHandle{state: nil, done: make(chan struct{})}
	svc.mu.Unlock()

	svc.startJob(context.Background(), Command{Type: "start", JobID: "job-2", Payload: startPayload})

	lines := decodeLines(t, &out)
	errs := eventsOfType(lines, "error")
	if len(errs) != 1 {
		t.Fatalf("expected one error event for the rejected second job, got %+v", lines)
	}
}

func TestRun_cancelUnknownJobEmitsError(t *testing.T) {
	var out bytes.Buffer
	svc, _ := newTestService(t, &out)

	input := bytes.NewBufferString(`{"type":"cancel","jobId":"ghost"}` + "\n" + `{"type":"shutdown"}` + "\n")
	if err := svc.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := decodeLines(t, &out)
	if len(eventsOfType(lines, "error")) != 1 {
		t.Fatalf("expected error event for cancelling an unknown job, got %+v", lines)
	}
}

func TestRun_malformedJSONEmitsServiceError(t *testing.T) {
	var out bytes.Buffer
	svc, _ := newTestService(t, &out)

	input := bytes.NewBufferString("not json\n" + `{"type":"shutdown"}` + "\n")
	if err := svc.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := decodeLines(t, &out)
	serviceErrs := eventsOfType(lines, "service_error")
	if len(serviceErrs) != 1 {
		t.Fatalf("expected one service_error event, got %+v", lines)
	}
	if _, hasJobID := serviceErrs[0]["jobId"]; hasJobID {
		t.Error("service_error should have no jobId")
	}
}

func TestRun_missingPayloadEmitsErrorAndExit(t *testing.T) {
	var out bytes.Buffer
	svc, _ := newTestService(t, &out)

	input := bytes.NewBufferString(`{"type":"start","jobId":"job-x"}` + "\n" + `{"type":"shutdown"}` + "\n")
	if err := svc.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}

	lines := decodeLines(t, &out)
	if len(eventsOfType(lines, "error")) != 1 {
		t.Fatalf("expected error for missing payload, got %+v", lines)
	}
	exits := eventsOfType(lines, "exit")
	if len(exits) != 1 || exits[0]["code"] != float64(1) {
		t.Fatalf("expected exit code=1, got %+v", exits)
	}
}

func solidFrames(n, w, h int, value byte) []*frame.Frame {
	frames := make([]*frame.Frame, n)
	for i := 0; i < n; i++ {
		f := frame.New(i, w, h)
		for j := range f.Pix {
			f.Pix[j] = value
		}
		frames[i] = f
	}
	return frames
}
