// Command revanon-restore reverses an anonymization job: given the
// anonymized video and its data pack, it decrypts and pastes back every
// stored region to recover the original pixels inside each region.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/revanon/revanon/internal/config"
	"github.com/revanon/revanon/internal/restore"
	"github.com/revanon/revanon/internal/videoio"
)

func main() {
	cfg := config.Load()

	anonymized := flag.String("anonymized-video", "", "anonymized video path (required)")
	dataPack := flag.String("data-pack", "", "data pack path (required)")
	output := flag.String("output", "", "restored output video path (required)")
	aesKeyHex := flag.String("key", cfg.AESKeyHex, "AES key, hex-encoded 16/24/32 bytes")
	hmacKeyHex := flag.String("hmac-key", cfg.HMACKeyHex, "HMAC key, hex-encoded")
	flag.Parse()

	if *anonymized == "" || *dataPack == "" || *output == "" {
		fmt.Fprintln(os.Stderr, "usage: revanon-restore -anonymized-video in.mp4 -data-pack in.rvapack -output out.mp4 [flags]")
		os.Exit(2)
	}

	cfg.AESKeyHex, cfg.HMACKeyHex = *aesKeyHex, *hmacKeyHex
	if cfg.AESKeyHex == "" {
		// Unlike anonymize, a missing key here can never be filled in with a
		// fresh random one: restore must use the same key anonymize used.
		log.Fatalf("revanon-restore: -key (or REVANON_AES_KEY) is required")
	}
	aesKey, err := cfg.AESKey()
	if err != nil {
		log.Fatalf("revanon-restore: %v", err)
	}
	hmacKey, err := cfg.HMACKey(aesKey)
	if err != nil {
		log.Fatalf("revanon-restore: %v", err)
	}

	opener := videoio.FFmpegOpener{FFmpegPath: cfg.FFmpegPath, FFprobePath: cfg.FFprobePath}
	opts := restore.Options{
		AESKey:  aesKey,
		HMACKey: hmacKey,
		OnLog:   func(msg string) { log.Print(msg) },
	}

	result, err := restore.Run(context.Background(), opener, *anonymized, *dataPack, *output, opts)
	if err != nil {
		if err == restore.ErrAuthFailed {
			log.Fatalf("revanon-restore: data pack failed authentication; wrong key or corrupted pack")
		}
		log.Fatalf("revanon-restore: %v", err)
	}

	log.Printf("revanon-restore: wrote %d frames, pasted %d regions, skipped %d degenerate regions",
		result.FramesWritten, result.RegionsPasted, result.RegionsSkipped)
}
