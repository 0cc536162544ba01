// Command revanon-anonymize runs one reversible anonymization job against a
// single video: decode, track/detect sensitive regions, encrypt and
// obfuscate them, and write the anonymized video plus its data pack.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/revanon/revanon/internal/config"
	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/frame"
	"github.com/revanon/revanon/internal/pipeline"
	"github.com/revanon/revanon/internal/progress"
	"github.com/revanon/revanon/internal/videoio"
)

// roiFlag collects repeated -manual-roi flags into a []frame.Bbox.
type roiFlag []frame.Bbox

func (r *roiFlag) String() string { return "" }

func (r *roiFlag) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return fmt.Errorf("manual-roi %q: want x1,y1,x2,y2", s)
	}
	var vals [4]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return fmt.Errorf("manual-roi %q: %w", s, err)
		}
		vals[i] = v
	}
	*r = append(*r, frame.Bbox{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]})
	return nil
}

func main() {
	cfg := config.Load()

	input := flag.String("input", "", "source video path (required)")
	output := flag.String("output", "", "anonymized output video path (required)")
	dataPack := flag.String("data-pack", "", "data pack path (default: <output>+ext from REVANON_PACK_EXT)")
	aesKeyHex := flag.String("key", cfg.AESKeyHex, "AES key, hex-encoded 16/24/32 bytes")
	hmacKeyHex := flag.String("hmac-key", cfg.HMACKeyHex, "HMAC key, hex-encoded")
	classes := flag.String("classes", cfg.Classes, "comma-separated sensitive class labels")
	model := flag.String("model", cfg.ModelPath, "detector weights identifier, passed through to -detector-cmd")
	style := flag.String("style", cfg.Style, "obfuscation style: blur|mosaic|pixelate")
	device := flag.String("device", string(cfg.Device), "detector device: auto|cuda|cpu")
	detectorCmd := flag.String("detector-cmd", cfg.DetectorCommand, "external detector subprocess command")
	disableDetection := flag.Bool("disable-detection", false, "skip the detector stage entirely")
	workers := flag.Int("workers", 1, "worker goroutine count (reserved; see DESIGN.md, currently always 1 regardless of this flag)")
	embedPack := flag.Bool("embed-pack", cfg.EmbedPack, "embed the data pack into the output container")
	embeddedOutput := flag.String("embedded-output", "", "write the embedded container to a separate path instead of in-place")
	jsonProgress := flag.Bool("json-progress", cfg.JSONProgress, "emit newline-delimited JSON progress events on stdout")
	progressRate := flag.Float64("progress-rate-hz", cfg.ProgressRateHz, "max high-frequency progress events per second")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsListenAddr, "optional Prometheus /metrics listen address")
	ledgerPath := flag.String("ledger", cfg.LedgerPath, "optional sqlite job-state ledger path")
	var manualROIs roiFlag
	flag.Var(&manualROIs, "manual-roi", "x1,y1,x2,y2 manual region to track (repeatable)")
	flag.Parse()

	if *input == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "usage: revanon-anonymize -input in.mp4 -output out.mp4 [flags]")
		os.Exit(2)
	}
	packPath := *dataPack
	if packPath == "" {
		packPath = *output + cfg.DataPackExt
	}

	// Flags win over whatever Load() pulled from the environment.
	cfg.AESKeyHex, cfg.HMACKeyHex, cfg.Classes, cfg.Style = *aesKeyHex, *hmacKeyHex, *classes, *style

	aesKeyWasSet := cfg.AESKeyHex != ""
	hmacKeyWasSet := cfg.HMACKeyHex != ""
	aesKey, err := cfg.AESKey()
	if err != nil {
		log.Fatalf("revanon-anonymize: %v", err)
	}
	if !aesKeyWasSet {
		log.Printf("revanon-anonymize: generated AES key (hex): %s", cfg.AESKeyHex)
	}
	hmacKey, err := cfg.HMACKey(aesKey)
	if err != nil {
		log.Fatalf("revanon-anonymize: %v", err)
	}
	if !hmacKeyWasSet {
		log.Printf("revanon-anonymize: HMAC key not provided, defaulting to AES key")
	}
	obfuscateStyle, err := cfg.ObfuscateStyle()
	if err != nil {
		log.Fatalf("revanon-anonymize: %v", err)
	}

	classList := cfg.ClassList()

	var det detect.Detector
	if !*disableDetection && len(classList) > 0 {
		if *detectorCmd == "" {
			log.Fatalf("revanon-anonymize: -detector-cmd (or REVANON_DETECTOR_CMD) required unless -disable-detection")
		}
		resolved := detect.ResolveDevice(detect.Device(*device), nil)
		argv := append(strings.Fields(*detectorCmd), "--device", string(resolved), "--model", *model)
		det, err = detect.NewSubprocessDetector(exec.Command(argv[0], argv[1:]...))
		if err != nil {
			log.Fatalf("revanon-anonymize: start detector: %v", err)
		}
		defer det.Close()
	}

	var metrics *pipeline.Metrics
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = pipeline.NewMetrics(reg)
		pipeline.ServeMetrics(*metricsAddr, reg)
	}

	var ledger *pipeline.Ledger
	if *ledgerPath != "" {
		ledger, err = pipeline.OpenLedger(*ledgerPath)
		if err != nil {
			log.Fatalf("revanon-anonymize: open ledger: %v", err)
		}
		defer ledger.Close()
	}

	if *workers != 1 {
		log.Printf("revanon-anonymize: -workers=%d ignored; the pipeline always runs a single worker (see DESIGN.md)", *workers)
	}

	state := &pipeline.JobState{}

	jobID := fmt.Sprintf("%s->%s", *input, *output)
	emitter := progress.NewEmitter(os.Stdout, *progressRate)
	onEvent := func(e pipeline.Event) {
		if ledger != nil {
			status := string(e.Type)
			if err := ledger.Upsert(jobID, status, *input, *output, state.Processed(), int64(state.Metadata.TotalFrames),
				state.Cancel.Cancelled(), "", time.Now()); err != nil {
				log.Printf("revanon-anonymize: ledger update: %v", err)
			}
		}
		if !*jsonProgress {
			log.Printf("revanon-anonymize: %s %v", e.Type, e.Data)
			return
		}
		payload, _ := json.Marshal(e.Data)
		var data map[string]any
		_ = json.Unmarshal(payload, &data)
		switch e.Type {
		case pipeline.EventProgress, pipeline.EventDetection, pipeline.EventManualROI:
			emitter.EmitThrottled(jobID, string(e.Type), data)
		default:
			emitter.Emit(jobID, string(e.Type), data)
		}
	}

	opts := pipeline.Options{
		AESKey:             aesKey,
		HMACKey:            hmacKey,
		Classes:            classList,
		ManualROIs:         manualROIs,
		Style:              obfuscateStyle,
		DisableDetector:    *disableDetection,
		Detector:           det,
		Workers:            *workers,
		EmbedPack:          *embedPack,
		EmbeddedOutputPath: *embeddedOutput,
		Metrics:            metrics,
		OnEvent:            onEvent,
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		state.Cancel.Cancel()
		cancel()
	}()

	opener := videoio.FFmpegOpener{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath}
	result, err := pipeline.Run(ctx, opener, *input, *output, packPath, opts, state)
	if err != nil {
		log.Fatalf("revanon-anonymize: %v", err)
	}

	log.Printf("revanon-anonymize: wrote %d frames to %s (pack %s, digest %x)",
		result.FramesWritten, result.OutputPath, result.DataPackPath, result.PackDigest)
	if result.EmbeddedIn != "" {
		log.Printf("revanon-anonymize: embedded pack into %s", result.EmbeddedIn)
	}
}
