package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestEmit_writesOneJSONLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, 1000)

	if err := e.Emit("job-1", "started", map[string]any{"input": "in.mp4"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := e.Emit("job-1", "completed", nil); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %q", len(lines), buf.String())
	}

	var first map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("unmarshal line 1: %v", err)
	}
	if first["jobId"] != "job-1" || first["event"] != "started" || first["input"] != "in.mp4" {
		t.Errorf("line 1 = %+v", first)
	}
}

func TestServiceError_omitsJobID(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, 1000)

	if err := e.ServiceError("invalid JSON command"); err != nil {
		t.Fatalf("ServiceError: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := line["jobId"]; ok {
		t.Errorf("expected no jobId key, got %+v", line)
	}
	if line["event"] != "service_error" {
		t.Errorf("event = %v, want service_error", line["event"])
	}
}

func TestEmitThrottled_dropsOverRate(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, 1) // ~1 event/sec, burst 1

	for i := 0; i < 20; i++ {
		if err := e.EmitThrottled("job-1", "progress", map[string]any{"frame_index": i}); err != nil {
			t.Fatalf("EmitThrottled: %v", err)
		}
	}

	scanner := bufio.NewScanner(&buf)
	count := 0
	for scanner.Scan() {
		count++
	}
	if count == 0 || count >= 20 {
		t.Errorf("expected some but not all 20 events to pass the limiter, got %d", count)
	}
}

func TestConcurrentEmit_doesNotInterleaveLines(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(&buf, 1000)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			for j := 0; j < 50; j++ {
				e.Emit("job-1", "log", map[string]any{"message": strings.Repeat("x", 40)})
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("corrupted/interleaved line: %v (%q)", err, scanner.Text())
		}
	}
}
