// Package pipeline implements the three-stage streaming orchestrator
// (spec §4.5, C5) and the per-frame worker logic (spec §4.6, C6): decoder
// -> frame_q -> worker -> processed_q -> consumer, with bounded
// backpressure, cooperative cancellation, and progress reporting.
package pipeline

import (
	"sync/atomic"

	"github.com/revanon/revanon/internal/videoio"
)

// queueCapacity bounds peak memory to ~64 frames in flight (spec §4.5).
const queueCapacity = 32

// CancelToken is a monotone, cooperative cancellation flag (spec §3 "Pipeline
// job state"): once set it never clears. Safe for concurrent use from the
// worker loop, the status-callback bridge, and an external canceller (e.g.
// the supervisor's "cancel" command).
type CancelToken struct {
	flag atomic.Bool
}

// Cancel sets the flag. Idempotent.
func (c *CancelToken) Cancel() { c.flag.Store(true) }

// Cancelled reports whether Cancel has ever been called.
func (c *CancelToken) Cancelled() bool { return c.flag.Load() }

// JobState tracks one anonymization job's cancellation flag, probed source
// metadata, and progress counter (spec §3 "Pipeline job state").
type JobState struct {
	Cancel   CancelToken
	Metadata videoio.Metadata

	processed atomic.Int64
}

// Processed returns the number of frames the consumer has written so far.
func (j *JobState) Processed() int64 { return j.processed.Load() }

func (j *JobState) incProcessed() int64 { return j.processed.Add(1) }
