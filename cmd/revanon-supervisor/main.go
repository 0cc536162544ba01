// Command revanon-supervisor runs the long-lived job-IPC service: it reads
// newline-delimited JSON start/cancel/shutdown commands from stdin and
// writes newline-delimited JSON progress/terminal events to stdout, running
// at most one anonymization job at a time.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/revanon/revanon/internal/config"
	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/pipeline"
	"github.com/revanon/revanon/internal/progress"
	"github.com/revanon/revanon/internal/supervisor"
	"github.com/revanon/revanon/internal/videoio"
)

func main() {
	cfg := config.Load()

	detectorCmd := flag.String("detector-cmd", cfg.DetectorCommand, "external detector subprocess command")
	progressRate := flag.Float64("progress-rate-hz", cfg.ProgressRateHz, "max high-frequency progress events per second")
	metricsAddr := flag.String("metrics-addr", cfg.MetricsListenAddr, "optional Prometheus /metrics listen address")
	flag.Parse()

	var metrics *pipeline.Metrics
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = pipeline.NewMetrics(reg)
		pipeline.ServeMetrics(*metricsAddr, reg)
	}

	svc := &supervisor.Service{
		Opener:  videoio.FFmpegOpener{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath},
		Emitter: progress.NewEmitter(os.Stdout, *progressRate),
		Metrics: metrics,
	}
	if *detectorCmd != "" {
		svc.DetectorFactory = func(device detect.Device) (detect.Detector, error) {
			return detect.NewSubprocessDetector(exec.Command(*detectorCmd, "--device", string(device)))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	if err := svc.Run(ctx, os.Stdin); err != nil {
		log.Fatalf("revanon-supervisor: %v", err)
	}
}
