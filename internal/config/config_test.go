package config

import (
	"encoding/hex"
	"os"
	"testing"

	"github.com/revanon/revanon/internal/obfuscate"
)

func clearRevanonEnv() {
	for _, k := range []string{
		"REVANON_AES_KEY", "REVANON_HMAC_KEY", "REVANON_MODEL_PATH", "REVANON_DEVICE",
		"REVANON_DETECTOR_CMD", "REVANON_CLASSES", "REVANON_STYLE", "REVANON_FFMPEG_PATH",
		"REVANON_FFPROBE_PATH", "REVANON_EMBED_PACK", "REVANON_PACK_EXT", "REVANON_JSON_PROGRESS",
		"REVANON_PROGRESS_RATE_HZ", "REVANON_METRICS_ADDR", "REVANON_LEDGER_PATH",
	} {
		os.Unsetenv(k)
	}
}

func TestLoad_defaults(t *testing.T) {
	clearRevanonEnv()
	c := Load()
	if c.ModelPath != "yolov8n.pt" {
		t.Errorf("ModelPath = %q, want yolov8n.pt", c.ModelPath)
	}
	if c.Device != "auto" {
		t.Errorf("Device = %q, want auto", c.Device)
	}
	if c.Style != "blur" {
		t.Errorf("Style = %q, want blur", c.Style)
	}
	if c.EmbedPack {
		t.Error("EmbedPack default should be false")
	}
	if c.ProgressRateHz != 10.0 {
		t.Errorf("ProgressRateHz = %v, want 10.0", c.ProgressRateHz)
	}
}

func TestClassList_splitsAndTrims(t *testing.T) {
	clearRevanonEnv()
	os.Setenv("REVANON_CLASSES", " face, plate ,, license_plate")
	c := Load()
	got := c.ClassList()
	want := []string{"face", "plate", "license_plate"}
	if len(got) != len(want) {
		t.Fatalf("ClassList() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ClassList()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestObfuscateStyle_validAndInvalid(t *testing.T) {
	clearRevanonEnv()
	os.Setenv("REVANON_STYLE", "mosaic")
	c := Load()
	style, err := c.ObfuscateStyle()
	if err != nil {
		t.Fatalf("ObfuscateStyle: %v", err)
	}
	if style != obfuscate.StyleMosaic {
		t.Errorf("style = %v, want mosaic", style)
	}

	os.Setenv("REVANON_STYLE", "sparkle")
	c = Load()
	if _, err := c.ObfuscateStyle(); err == nil {
		t.Error("expected error for unknown style")
	}
}

func TestAESKey_roundtripAndValidation(t *testing.T) {
	clearRevanonEnv()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	os.Setenv("REVANON_AES_KEY", hex.EncodeToString(key))
	c := Load()
	got, err := c.AESKey()
	if err != nil {
		t.Fatalf("AESKey: %v", err)
	}
	if hex.EncodeToString(got) != hex.EncodeToString(key) {
		t.Error("decoded AES key does not match input")
	}
}

func TestAESKey_rejectsBadLength(t *testing.T) {
	clearRevanonEnv()
	os.Setenv("REVANON_AES_KEY", hex.EncodeToString(make([]byte, 10)))
	c := Load()
	if _, err := c.AESKey(); err == nil {
		t.Error("expected error for 10-byte AES key")
	}
}

func TestAESKey_missingGeneratesRandom32Bytes(t *testing.T) {
	clearRevanonEnv()
	c := Load()
	got, err := c.AESKey()
	if err != nil {
		t.Fatalf("AESKey: %v", err)
	}
	if len(got) != 32 {
		t.Errorf("generated AES key length = %d, want 32", len(got))
	}
	if c.AESKeyHex == "" {
		t.Error("AESKeyHex should be populated with the generated key's hex")
	}
	other := Load()
	got2, err := other.AESKey()
	if err != nil {
		t.Fatalf("AESKey: %v", err)
	}
	if hex.EncodeToString(got) == hex.EncodeToString(got2) {
		t.Error("two generated AES keys should not collide")
	}
}

func TestHMACKey_acceptsArbitraryLength(t *testing.T) {
	clearRevanonEnv()
	os.Setenv("REVANON_HMAC_KEY", hex.EncodeToString([]byte("short-but-nonempty")))
	c := Load()
	if _, err := c.HMACKey(nil); err != nil {
		t.Fatalf("HMACKey: %v", err)
	}
}

func TestHMACKey_missingDefaultsToAESKey(t *testing.T) {
	clearRevanonEnv()
	c := Load()
	aesKey := []byte{1, 2, 3, 4}
	hmacKey, err := c.HMACKey(aesKey)
	if err != nil {
		t.Fatalf("HMACKey: %v", err)
	}
	if hex.EncodeToString(hmacKey) != hex.EncodeToString(aesKey) {
		t.Error("HMACKey should default to the AES key when REVANON_HMAC_KEY is unset")
	}
}

func TestHMACKey_rejectsInvalidHex(t *testing.T) {
	clearRevanonEnv()
	os.Setenv("REVANON_HMAC_KEY", "not-hex!!")
	c := Load()
	if _, err := c.HMACKey(nil); err == nil {
		t.Error("expected error for invalid hex")
	}
}
