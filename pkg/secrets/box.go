// Package secrets seals provider credential bags at rest with NaCl secretbox.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var ErrOpen = errors.New("secrets: cannot open sealed value")

// Box seals and opens credential payloads with a single symmetric key.
type Box struct {
	key  [keySize]byte
	rand io.Reader
}

// NewBox parses a 32-byte key given as hex or standard base64.
func NewBox(encodedKey string) (*Box, error) {
	raw, err := decodeKey(strings.TrimSpace(encodedKey))
	if err != nil {
		return nil, err
	}
	b := &Box{rand: rand.Reader}
	copy(b.key[:], raw)
	return b, nil
}

func decodeKey(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("secrets: key is required")
	}
	if raw, err := hex.DecodeString(value); err == nil && len(raw) == keySize {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(value); err == nil && len(raw) == keySize {
		return raw, nil
	}
	return nil, fmt.Errorf("secrets: key must decode to %d bytes (hex or base64)", keySize)
}

// Seal encrypts plaintext. The output is nonce || ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(b.rand, nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open decrypts a value produced by Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrOpen
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrOpen
	}
	return out, nil
}

// SealJSON marshals v and seals it.
func (b *Box) SealJSON(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("secrets: marshal: %w", err)
	}
	return b.Seal(payload)
}

// OpenJSON opens sealed and unmarshals it into v.
func (b *Box) OpenJSON(sealed []byte, v any) error {
	payload, err := b.Open(sealed)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("secrets: unmarshal: %w", err)
	}
	return nil
}
