// Package config loads revanon's runtime configuration from the environment
// (with CLI flags layered on top in cmd/*), following the teacher's
// env-first, flag-overrides layering.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/revanon/revanon/internal/detect"
	"github.com/revanon/revanon/internal/obfuscate"
)

// Config holds the keys, model/detector settings, and ambient knobs shared
// by cmd/revanon-anonymize, cmd/revanon-restore, and cmd/revanon-supervisor.
type Config struct {
	// Key material (spec §3 "Key material"); hex-encoded on the wire/CLI,
	// raw bytes once loaded.
	AESKeyHex  string
	HMACKeyHex string

	// Detector / tracking
	ModelPath       string
	Device          detect.Device
	DetectorCommand string // external detector subprocess argv[0]
	Classes         string // comma-separated sensitive class labels

	// Obfuscation
	Style string // "blur" | "mosaic" | "pixelate"

	// Video I/O
	FFmpegPath  string
	FFprobePath string

	// Pack / embedding
	EmbedPack   bool
	DataPackExt string

	// Ambient: progress/metrics
	JSONProgress      bool
	ProgressRateHz    float64
	MetricsListenAddr string // "" = disabled

	// Ambient: job ledger (spec E3 "job ledger")
	LedgerPath string // "" = disabled; otherwise a sqlite database file
}

// Load populates Config from the environment, the same getEnv/getEnvInt/
// getEnvBool helper idiom the teacher's internal/config uses.
func Load() *Config {
	return &Config{
		AESKeyHex:         getEnv("REVANON_AES_KEY", ""),
		HMACKeyHex:        getEnv("REVANON_HMAC_KEY", ""),
		ModelPath:         getEnv("REVANON_MODEL_PATH", "yolov8n.pt"),
		Device:            detect.Device(getEnv("REVANON_DEVICE", "auto")),
		DetectorCommand:   getEnv("REVANON_DETECTOR_CMD", ""),
		Classes:           getEnv("REVANON_CLASSES", "person,car,truck,bus,motorcycle,motorbike"),
		Style:             getEnv("REVANON_STYLE", "blur"),
		FFmpegPath:        getEnv("REVANON_FFMPEG_PATH", "ffmpeg"),
		FFprobePath:       getEnv("REVANON_FFPROBE_PATH", "ffprobe"),
		EmbedPack:         getEnvBool("REVANON_EMBED_PACK", false),
		DataPackExt:       getEnv("REVANON_PACK_EXT", ".rvapack"),
		JSONProgress:      getEnvBool("REVANON_JSON_PROGRESS", false),
		ProgressRateHz:    getEnvFloat("REVANON_PROGRESS_RATE_HZ", 10.0),
		MetricsListenAddr: getEnv("REVANON_METRICS_ADDR", ""),
		LedgerPath:        getEnv("REVANON_LEDGER_PATH", ""),
	}
}

// ClassList splits Classes on commas, trimming whitespace and dropping empty
// entries.
func (c *Config) ClassList() []string {
	parts := strings.Split(c.Classes, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ObfuscateStyle validates and returns Style as obfuscate.Style.
func (c *Config) ObfuscateStyle() (obfuscate.Style, error) {
	switch obfuscate.Style(c.Style) {
	case obfuscate.StyleBlur, obfuscate.StyleMosaic, obfuscate.StylePixelate:
		return obfuscate.Style(c.Style), nil
	default:
		return "", fmt.Errorf("config: unknown style %q", c.Style)
	}
}

// AESKey decodes AESKeyHex, which must decode to 16, 24, or 32 bytes (spec
// §3 "Key material"). If AESKeyHex is empty, a fresh random 32-byte key is
// generated (spec §6 "--key ... random if omitted") and AESKeyHex is updated
// so a caller can log or persist the generated hex.
func (c *Config) AESKey() ([]byte, error) {
	if c.AESKeyHex == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("config: generate AES key: %w", err)
		}
		c.AESKeyHex = hex.EncodeToString(key)
		return key, nil
	}
	return decodeKeyHex("AES", c.AESKeyHex, map[int]bool{16: true, 24: true, 32: true})
}

// HMACKey decodes HMACKeyHex; any non-empty length is accepted, matching
// HMAC-SHA256's tolerance for arbitrary key sizes. If HMACKeyHex is empty, it
// defaults to aesKey (spec §6 "--hmac-key ... defaults to AES key").
func (c *Config) HMACKey(aesKey []byte) ([]byte, error) {
	if c.HMACKeyHex == "" {
		return aesKey, nil
	}
	return decodeKeyHex("HMAC", c.HMACKeyHex, nil)
}

func decodeKeyHex(label, s string, allowedLens map[int]bool) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("config: %s key not set", label)
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("config: %s key is not valid hex: %w", label, err)
	}
	if allowedLens != nil && !allowedLens[len(key)] {
		return nil, fmt.Errorf("config: %s key is %d bytes, want one of 16/24/32", label, len(key))
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("config: %s key is empty", label)
	}
	return key, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
