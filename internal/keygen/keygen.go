// Package keygen produces the rotatable credential set (X25519 key pair +
// hex short ID) through an ordered chain of backends. The engine's own CLI
// is preferred because it emits exactly the encoding the engine expects;
// a local curve25519 implementation covers hosts where the engine binary is
// missing, and a random placeholder keeps the system operable as a last
// resort.
package keygen

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"
)

// Key material is 32 bytes, encoded as unpadded URL-safe base64 (43 chars).
const (
	keyLen        = 32
	EncodedKeyLen = 43
)

// ShortID lengths accepted by the engine.
const (
	MinShortIDLen = 8
	MaxShortIDLen = 16
)

// ErrNoBackend is returned when every backend in the chain failed.
var ErrNoBackend = errors.New("keygen: no backend produced usable key material")

// CredentialSet is the complete rotatable secret material. It is only ever
// replaced wholesale, never edited field by field.
type CredentialSet struct {
	PrivateKey string    `json:"-"`
	PublicKey  string    `json:"public_key"`
	ShortID    string    `json:"short_id"`
	CreatedAt  time.Time `json:"created_at"`

	// Unsafe marks placeholder material from the last-resort backend: the
	// bytes are not a valid key-agreement pair and must be rotated out as
	// soon as a real backend is available.
	Unsafe bool `json:"unsafe,omitempty"`

	// Backend names the backend that produced this set.
	Backend string `json:"backend"`
}

// Backend generates one key pair. Implementations that report Unsafe() do
// not guarantee cryptographic correctness.
type Backend interface {
	Name() string
	Unsafe() bool
	GenerateKeyPair(ctx context.Context) (privateKey, publicKey string, err error)
	// RecomputePublic derives the public key from a private key produced by
	// this backend. Unsafe backends return an error.
	RecomputePublic(ctx context.Context, privateKey string) (string, error)
}

// Generator tries backends in strict priority order, each under a bounded
// timeout; the first success wins.
type Generator struct {
	backends   []Backend
	shortIDLen int
	timeout    time.Duration
}

func NewGenerator(engineBinary string, shortIDLen int, timeout time.Duration) *Generator {
	if shortIDLen < MinShortIDLen || shortIDLen > MaxShortIDLen {
		shortIDLen = MaxShortIDLen
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Generator{
		backends: []Backend{
			&engineCLIBackend{binary: engineBinary},
			&x25519Backend{},
			&randomBackend{},
		},
		shortIDLen: shortIDLen,
		timeout:    timeout,
	}
}

// Generate returns a fresh credential set, or ErrNoBackend when the whole
// chain is exhausted. No partial set is ever returned.
func (g *Generator) Generate(ctx context.Context) (*CredentialSet, error) {
	shortID, err := DeriveShortID(g.shortIDLen)
	if err != nil {
		return nil, fmt.Errorf("keygen: derive short id: %w", err)
	}

	for _, b := range g.backends {
		bctx, cancel := context.WithTimeout(ctx, g.timeout)
		priv, pub, err := b.GenerateKeyPair(bctx)
		cancel()
		if err != nil {
			log.Printf("keygen: backend %s failed: %v", b.Name(), err)
			continue
		}
		if b.Unsafe() {
			log.Printf("keygen: backend %s produced PLACEHOLDER material, rotate again once a real backend is available", b.Name())
		}
		return &CredentialSet{
			PrivateKey: priv,
			PublicKey:  pub,
			ShortID:    shortID,
			CreatedAt:  time.Now().UTC(),
			Unsafe:     b.Unsafe(),
			Backend:    b.Name(),
		}, nil
	}

	return nil, ErrNoBackend
}

// Recompute derives the public key from privateKey via the named backend,
// for deep validation of a generated pair.
func (g *Generator) Recompute(ctx context.Context, backendName, privateKey string) (string, error) {
	for _, b := range g.backends {
		if b.Name() == backendName {
			return b.RecomputePublic(ctx, privateKey)
		}
	}
	return "", fmt.Errorf("keygen: unknown backend %q", backendName)
}

// Backends returns the chain's backend names in priority order.
func (g *Generator) Backends() []string {
	names := make([]string, len(g.backends))
	for i, b := range g.backends {
		names[i] = b.Name()
	}
	return names
}

// DeriveShortID returns n random bytes hex-encoded to exactly length chars.
func DeriveShortID(length int) (string, error) {
	if length < MinShortIDLen || length > MaxShortIDLen {
		return "", fmt.Errorf("short id length %d outside [%d,%d]", length, MinShortIDLen, MaxShortIDLen)
	}
	raw := make([]byte, (length+1)/2)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw)[:length], nil
}

func encodeKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeKey(encoded string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(raw) != keyLen {
		return nil, fmt.Errorf("decode key: got %d bytes, want %d", len(raw), keyLen)
	}
	return raw, nil
}
