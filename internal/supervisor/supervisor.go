// Package supervisor implements the long-lived job-IPC service described in
// spec §6 ("Supervisor IPC") and grounded in the original source's
// anonymize_service.py: newline-delimited JSON commands on stdin
// (start/cancel/shutdown), newline-delimited JSON events on stdout, exactly
// one anonymization job running at a time. The child-process supervision
// idiom (context-driven cancellation, log.Printf status lines) follows
// internal/supervisor's original instance-runner model; the wire protocol
// follows the Python service's _emit_event contract instead of that file's
// JSON config schema.
package supervisor

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/obfuscate"
	"github.com/revanon/revanon/internal/pipeline"
	"github.com/revanon/revanon/internal/progress"
	"github.com/revanon/revanon/internal/videoio"
)

// Command is one line of supervisor input (spec §6: {"type": "start"|"cancel"|"shutdown", ...}).
type Command struct {
	Type    string          `json:"type"`
	JobID   string          `json:"jobId"`
	Payload json.RawMessage `json:"payload"`
}

// startPayload is the "start" command's payload shape, matching
// anonymize_service.py's AnonymizationRequest field names.
type startPayload struct {
	InputPath          string   `json:"inputPath"`
	OutputPath         string   `json:"outputPath"`
	DataPackPath       string   `json:"dataPackPath"`
	Device             string   `json:"device"`
	Classes            []string `json:"classes"`
	ManualROIs         [][4]int `json:"manualRois"`
	AESKeyHex          string   `json:"aesKey"`
	HMACKeyHex         string   `json:"hmacKey"`
	Style              string   `json:"style"`
	DisableDetection   bool     `json:"disableDetection"`
	WorkerCount        int      `json:"workerCount"`
	EmbedPack          bool     `json:"embedPack"`
	EmbeddedOutputPath string   `json:"embeddedOutputPath"`
}

// jobHandle tracks one running job so Cancel/Shutdown can reach it.
type jobHandle struct {
	state *pipeline.JobState
	done  chan struct{}
}

// Service is the supervisor's process-wide state: the one job allowed to run
// at a time (spec §6 "one job at a time"), the collaborators used to build a
// pipeline.Options per job, and the emitter that serializes every event.
type Service struct {
	mu  sync.Mutex
	job *jobHandle

	Opener          videoio.Opener
	DetectorFactory func(device detect.Device) (detect.Detector, error)
	Emitter         *progress.Emitter
	Metrics         *pipeline.Metrics
}

// Run reads newline-delimited JSON commands from in until EOF or a
// "shutdown" command, dispatching each to the matching handler. It blocks
// until shutdown (spec §6: "one job at a time per supervisor process").
func (s *Service) Run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var cmd Command
		if err := json.Unmarshal([]byte(line), &cmd); err != nil {
			s.Emitter.ServiceError("Invalid JSON command")
			continue
		}

		switch cmd.Type {
		case "start":
			s.startJob(ctx, cmd)
		case "cancel":
			s.cancelJob(cmd.JobID)
		case "shutdown":
			s.shutdown()
			return scanner.Err()
		default:
			s.Emitter.ServiceError(fmt.Sprintf("Unknown command type: %s", cmd.Type))
		}
	}
	return scanner.Err()
}

func (s *Service) startJob(ctx context.Context, cmd Command) {
	jobID := cmd.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	var payload startPayload
	if len(cmd.Payload) == 0 || json.Unmarshal(cmd.Payload, &payload) != nil {
		s.Emitter.Emit(jobID, "error", map[string]any{"message": "Missing jobId or payload"})
		s.Emitter.Emit(jobID, "exit", map[string]any{"code": 1})
		return
	}

	s.mu.Lock()
	if s.job != nil {
		s.mu.Unlock()
		s.Emitter.Emit(jobID, "error", map[string]any{"message": "Another anonymization job is still running"})
		s.Emitter.Emit(jobID, "exit", map[string]any{"code": 1})
		return
	}

	opts, err := s.buildOptions(jobID, payload)
	if err != nil {
		s.mu.Unlock()
		s.Emitter.Emit(jobID, "error", map[string]any{"message": err.Error()})
		s.Emitter.Emit(jobID, "exit", map[string]any{"code": 1})
		return
	}

	state := &pipeline.JobState{}
	handle := &jobHandle{state: state, done: make(chan struct{})}
	s.job = handle
	s.mu.Unlock()

	go s.runJob(ctx, jobID, payload, opts, state, handle)
}

func (s *Service) buildOptions(jobID string, payload startPayload) (pipeline.Options, error) {
	var aesKey []byte
	var err error
	if payload.AESKeyHex == "" {
		aesKey = make([]byte, 32)
		if _, err = rand.Read(aesKey); err != nil {
			return pipeline.Options{}, fmt.Errorf("aesKey: generate: %w", err)
		}
		s.Emitter.Emit(jobID, "log", map[string]any{"message": fmt.Sprintf("generated AES key (hex): %x", aesKey)})
	} else {
		aesKey, err = decodeHexKey(payload.AESKeyHex)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("aesKey: %w", err)
		}
	}

	var hmacKey []byte
	if payload.HMACKeyHex == "" {
		hmacKey = aesKey
	} else {
		hmacKey, err = decodeHexKey(payload.HMACKeyHex)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("hmacKey: %w", err)
		}
	}

	style := obfuscate.Style(payload.Style)
	if style == "" {
		style = obfuscate.StyleBlur
	}

	var det detect.Detector
	if !payload.DisableDetection && len(payload.Classes) > 0 && s.DetectorFactory != nil {
		resolved := detect.ResolveDevice(detect.Device(payload.Device), nil)
		det, err = s.DetectorFactory(resolved)
		if err != nil {
			return pipeline.Options{}, fmt.Errorf("detector: %w", err)
		}
	}

	rois := make([]frame.Bbox, 0, len(payload.ManualROIs))
	for _, r := range payload.ManualROIs {
		rois = append(rois, frame.Bbox{X1: r[0], Y1: r[1], X2: r[2], Y2: r[3]})
	}

	return pipeline.Options{
		AESKey:             aesKey,
		HMACKey:            hmacKey,
		Classes:            payload.Classes,
		ManualROIs:         rois,
		Style:              style,
		DisableDetector:    payload.DisableDetection,
		Detector:           det,
		Workers:            payload.WorkerCount,
		EmbedPack:          payload.EmbedPack,
		EmbeddedOutputPath: payload.EmbeddedOutputPath,
		Metrics:            s.Metrics,
		OnEvent: func(e pipeline.Event) {
			switch e.Type {
			case pipeline.EventCompleted, pipeline.EventCancelled, pipeline.EventError:
				// runJob emits the job's single terminal event itself.
			case pipeline.EventProgress, pipeline.EventDetection, pipeline.EventManualROI:
				s.Emitter.EmitThrottled(jobID, string(e.Type), e.Data)
			default:
				s.Emitter.Emit(jobID, string(e.Type), e.Data)
			}
		},
	}, nil
}

func (s *Service) runJob(ctx context.Context, jobID string, payload startPayload, opts pipeline.Options, state *pipeline.JobState, handle *jobHandle) {
	defer func() {
		s.mu.Lock()
		if s.job == handle {
			s.job = nil
		}
		s.mu.Unlock()
		close(handle.done)
	}()

	s.Emitter.Emit(jobID, "started", map[string]any{
		"input": payload.InputPath, "output": payload.OutputPath,
		"data_pack": payload.DataPackPath, "embed_pack": payload.EmbedPack,
	})

	exitCode := 0
	result, err := pipeline.Run(ctx, s.Opener, payload.InputPath, payload.OutputPath, payload.DataPackPath, opts, state)

	switch {
	case state.Cancel.Cancelled():
		s.Emitter.Emit(jobID, "cancelled", nil)
	case err != nil:
		exitCode = 1
		log.Printf("supervisor: job %s failed: %v", jobID, err)
		s.Emitter.Emit(jobID, "error", map[string]any{"message": err.Error()})
	default:
		completed := map[string]any{
			"output":     result.OutputPath,
			"data_pack":  result.DataPackPath,
			"digest":     fmt.Sprintf("%x", result.PackDigest),
			"aes_key":    fmt.Sprintf("%x", opts.AESKey),
			"hmac_key":   fmt.Sprintf("%x", opts.HMACKey),
		}
		if result.EmbeddedIn != "" {
			completed["embedded_output"] = result.EmbeddedIn
		}
		s.Emitter.Emit(jobID, "completed", completed)
	}
	s.Emitter.Emit(jobID, "exit", map[string]any{"code": exitCode})
}

func (s *Service) cancelJob(jobID string) {
	s.mu.Lock()
	handle := s.job
	s.mu.Unlock()

	if handle == nil {
		s.Emitter.Emit(jobID, "error", map[string]any{"message": "Job not found"})
		s.Emitter.Emit(jobID, "exit", map[string]any{"code": 1})
		return
	}
	handle.state.Cancel.Cancel()
}

func (s *Service) shutdown() {
	s.mu.Lock()
	handle := s.job
	s.mu.Unlock()

	if handle == nil {
		return
	}
	handle.state.Cancel.Cancel()
	<-handle.done
}

func decodeHexKey(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return key, nil
}
