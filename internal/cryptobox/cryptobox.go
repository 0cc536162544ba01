// Package cryptobox implements the AES-GCM region sealing and HMAC-SHA256
// pack authentication primitives described in spec §4.1 (C1).
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

const (
	nonceLen = 12
	tagLen   = 16
)

// Sentinel errors per the taxonomy in spec §7.
var (
	ErrInvalidKeyLength = errors.New("cryptobox: invalid AES key length (want 16, 24, or 32 bytes)")
	ErrAuthFailed       = errors.New("cryptobox: authentication failed")
	ErrShapeMismatch    = errors.New("cryptobox: decrypted plaintext length does not match expected size")
	ErrBlobTooShort     = errors.New("cryptobox: sealed blob shorter than nonce+tag")
)

// Seal encrypts plaintext with AES-GCM under a freshly generated random
// 96-bit nonce and empty AAD (the bbox is authenticated by the pack's HMAC
// trailer, not per-region — see spec §4.1 rationale). Returns
// nonce || ciphertext || tag.
func Seal(plaintext, key []byte) ([]byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}

	// GCM's Seal appends ciphertext||tag after the dst prefix, so passing
	// nonce as dst gives us nonce||ciphertext||tag directly.
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open verifies and decrypts a blob produced by Seal, requiring the result
// to be exactly expectedLen bytes.
func Open(blob, key []byte, expectedLen int) ([]byte, error) {
	block, err := newAESBlock(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < nonceLen+tagLen {
		return nil, ErrBlobTooShort
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLen)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}

	nonce, cipherAndTag := blob[:nonceLen], blob[nonceLen:]
	plaintext, err := gcm.Open(nil, nonce, cipherAndTag, nil)
	if err != nil {
		return nil, ErrAuthFailed
	}
	if len(plaintext) != expectedLen {
		return nil, ErrShapeMismatch
	}
	return plaintext, nil
}

func newAESBlock(key []byte) (cipher.Block, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: %w", err)
	}
	return block, nil
}

// HMACSHA256 computes the standard HMAC-SHA256 of data under key.
func HMACSHA256(key, data []byte) [32]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	var out [32]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMAC compares an expected digest against HMAC-SHA256(key, data) in
// constant time.
func VerifyHMAC(key, data, expected []byte) bool {
	got := HMACSHA256(key, data)
	return subtle.ConstantTimeCompare(got[:], expected) == 1
}

// Zero overwrites a key buffer in place. Call via defer on scope exit so key
// material does not linger in memory once a job finishes (spec §9, §5
// "Resource release").
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
