package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix identifies tally API keys
	KeyPrefix = "tly_"
	// KeyLength is the number of random bytes (32 bytes = 256 bits)
	KeyLength = 32
	// displayPrefixLen is how many encoded characters are kept for display
	displayPrefixLen = 8
)

// GeneratedKey is a freshly minted API key. Plaintext is shown to the caller once
// and never stored.
type GeneratedKey struct {
	Plaintext string
	Hash      string
	Prefix    string
}

// KeyGenerator generates and hashes API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate creates a new API key.
// Format: tly_<base64url(32 random bytes)>
func (g *KeyGenerator) Generate() (GeneratedKey, error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return GeneratedKey{}, fmt.Errorf("failed to generate random bytes: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(randomBytes)
	plaintext := KeyPrefix + encoded

	return GeneratedKey{
		Plaintext: plaintext,
		Hash:      g.Hash(plaintext),
		Prefix:    KeyPrefix + encoded[:displayPrefixLen],
	}, nil
}

// Hash computes the SHA256 hash used to look a key up
func (g *KeyGenerator) Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ValidateFormat checks that a key has the tly_ prefix and a base64url body of the right size
func (g *KeyGenerator) ValidateFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	if encoded == "" {
		return fmt.Errorf("key is too short")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(raw) != KeyLength {
		return fmt.Errorf("key body is %d bytes, want %d", len(raw), KeyLength)
	}

	return nil
}

// DisplayPrefix returns the portion of a key safe to show in listings
func (g *KeyGenerator) DisplayPrefix(key string) string {
	if !strings.HasPrefix(key, KeyPrefix) {
		return ""
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	if len(encoded) >= displayPrefixLen {
		return KeyPrefix + encoded[:displayPrefixLen]
	}
	return key
}
