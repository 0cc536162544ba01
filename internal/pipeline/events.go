package pipeline

// EventType enumerates the progress/terminal events of spec §4.5 and §6.
type EventType string

const (
	EventMetadata   EventType = "metadata"
	EventDetection  EventType = "detection"
	EventManualROI  EventType = "manual_roi"
	EventProgress   EventType = "progress"
	EventFinalizing EventType = "finalizing"
	EventFinalized  EventType = "finalized"
	EventCompleted  EventType = "completed"
	EventCancelled  EventType = "cancelled"
	EventError      EventType = "error"
)

// Event is one status line emitted during a job (spec §6 supervisor IPC:
// "{jobId, event, ...}"; the jobId is attached by the supervisor layer, not
// here — pipeline is job-id-agnostic).
type Event struct {
	Type EventType
	Data map[string]any
}

// StatusCallback receives one Event at a time. An implementation may raise
// cancellation by calling token.Cancel() and is expected not to block for
// long — it runs on the worker or consumer goroutine.
//
// A panic or error surfaced by a callback is swallowed by the pipeline
// (logged, not propagated) unless it specifically requests cancellation —
// spec §7 "Callback errors".
type StatusCallback func(evt Event)

// NoopCallback discards every event.
func NoopCallback(Event) {}
