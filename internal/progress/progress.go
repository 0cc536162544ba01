// Package progress serializes pipeline.Event values to newline-delimited
// JSON on a shared writer (spec §5/§6: "JSON Lines on stdout, one job at a
// time"), matching the original anonymize_service.py's _emit/_emit_event
// contract. A single process-wide stdout lock, the same pattern the Python
// service uses (_stdout_lock), keeps interleaved goroutines from tearing a
// line in half.
package progress

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Emitter writes one JSON object per line to W, guarded by Mu so concurrent
// callers (multiple pipeline goroutines, or a logger bridging log.Printf
// into the same stream) never interleave partial lines.
type Emitter struct {
	W  io.Writer
	Mu sync.Mutex

	// limiter throttles high-frequency event types (progress, detection) so
	// a fast pipeline does not flood a slow consumer (e.g. a supervisor
	// piping to a UI over a socket) — spec §9 "Progress cadence", grounded
	// on internal/sdtprobe's hand-rolled time.Ticker throttle, replaced here
	// by golang.org/x/time/rate per SPEC_FULL.md's dependency wiring.
	limiter *rate.Limiter
}

// NewEmitter wraps w. eventsPerSecond bounds how often EmitThrottled accepts
// an event; one limiter is shared by every event type passed to it. Emit
// (used for lifecycle events) always writes immediately and unthrottled.
func NewEmitter(w io.Writer, eventsPerSecond float64) *Emitter {
	return &Emitter{
		W:       w,
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), 1),
	}
}

// Line is the on-wire shape: jobId + event, with arbitrary extra fields
// flattened alongside them (matching _emit_event's payload.update(data)).
type Line struct {
	JobID string         `json:"jobId,omitempty"`
	Event string         `json:"event"`
	Data  map[string]any `json:"-"`
}

// MarshalJSON flattens Data's keys alongside jobId/event, so callers see
// {"jobId":"...","event":"progress","frame_index":12} rather than a nested
// "data" object.
func (l Line) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(l.Data)+2)
	for k, v := range l.Data {
		out[k] = v
	}
	if l.JobID != "" {
		out["jobId"] = l.JobID
	}
	out["event"] = l.Event
	return json.Marshal(out)
}

// Emit writes one line immediately, regardless of rate limiting. Used for
// terminal/lifecycle events (started, completed, cancelled, error, exit)
// that must never be dropped.
func (e *Emitter) Emit(jobID, event string, data map[string]any) error {
	return e.writeLine(Line{JobID: jobID, Event: event, Data: data})
}

// EmitThrottled writes a line only if the limiter currently has a token
// available; otherwise it silently drops the event. Used for high-frequency
// per-frame progress events where dropping is preferable to unbounded
// buffering (spec §9).
func (e *Emitter) EmitThrottled(jobID, event string, data map[string]any) error {
	if !e.limiter.Allow() {
		return nil
	}
	return e.writeLine(Line{JobID: jobID, Event: event, Data: data})
}

func (e *Emitter) writeLine(l Line) error {
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	e.Mu.Lock()
	defer e.Mu.Unlock()
	_, err = e.W.Write(b)
	return err
}

// ServiceError emits a bare {"event":"service_error","message":...} line
// with no jobId, for malformed input that never resolved to a job (spec §6,
// matching _emit({"event": "service_error", ...}) in the original).
func (e *Emitter) ServiceError(message string) error {
	return e.Emit("", "service_error", map[string]any{"message": message})
}

// Throttle returns a time.Duration hint for callers that want to poll
// instead of using EmitThrottled directly (e.g. a ticker-based progress
// loop); derived from the same limiter.
func (e *Emitter) Throttle() time.Duration {
	return time.Duration(float64(time.Second) / float64(e.limiter.Limit()))
}
