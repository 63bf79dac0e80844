package keygen

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os/exec"
	"strings"

	"golang.org/x/crypto/curve25519"
)

// runEngineCommand executes the engine binary. It is a package-level var so
// tests can substitute canned output without the real binary installed.
var runEngineCommand = func(ctx context.Context, binary string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, binary, args...).Output()
}

// engineCLIBackend shells out to the transport engine's own key generator
// ("<engine> x25519"), which prints a "Private key:" / "Public key:" pair.
type engineCLIBackend struct {
	binary string
}

func (b *engineCLIBackend) Name() string { return "engine-cli" }
func (b *engineCLIBackend) Unsafe() bool { return false }

func (b *engineCLIBackend) GenerateKeyPair(ctx context.Context) (string, string, error) {
	if b.binary == "" {
		return "", "", fmt.Errorf("engine binary not configured")
	}
	out, err := runEngineCommand(ctx, b.binary, "x25519")
	if err != nil {
		return "", "", fmt.Errorf("run %s x25519: %w", b.binary, err)
	}
	priv, pub, err := parseKeyPairOutput(out)
	if err != nil {
		return "", "", err
	}
	// Round-trip the encoding so garbage CLI output is caught here, not by
	// the engine at restart.
	if _, err := decodeKey(priv); err != nil {
		return "", "", fmt.Errorf("engine private key: %w", err)
	}
	if _, err := decodeKey(pub); err != nil {
		return "", "", fmt.Errorf("engine public key: %w", err)
	}
	return priv, pub, nil
}

func (b *engineCLIBackend) RecomputePublic(ctx context.Context, privateKey string) (string, error) {
	out, err := runEngineCommand(ctx, b.binary, "x25519", "-i", privateKey)
	if err != nil {
		return "", fmt.Errorf("run %s x25519 -i: %w", b.binary, err)
	}
	_, pub, err := parseKeyPairOutput(out)
	if err != nil {
		return "", err
	}
	return pub, nil
}

// parseKeyPairOutput scans CLI output for the key pair lines. The private
// key line is absent when the CLI is asked to derive from an existing key.
func parseKeyPairOutput(out []byte) (priv, pub string, err error) {
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "Private key:"):
			priv = strings.TrimSpace(strings.TrimPrefix(line, "Private key:"))
		case strings.HasPrefix(line, "Public key:"):
			pub = strings.TrimSpace(strings.TrimPrefix(line, "Public key:"))
		}
	}
	if pub == "" {
		return "", "", fmt.Errorf("no key pair in engine output (%d bytes)", len(out))
	}
	return priv, pub, nil
}

// x25519Backend computes the pair locally: a clamped random scalar and its
// X25519 product with the base point, encoded the way the engine expects.
type x25519Backend struct{}

func (b *x25519Backend) Name() string { return "x25519-local" }
func (b *x25519Backend) Unsafe() bool { return false }

func (b *x25519Backend) GenerateKeyPair(_ context.Context) (string, string, error) {
	priv := make([]byte, keyLen)
	if _, err := rand.Read(priv); err != nil {
		return "", "", fmt.Errorf("read random: %w", err)
	}
	clamp(priv)
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return "", "", fmt.Errorf("x25519: %w", err)
	}
	return encodeKey(priv), encodeKey(pub), nil
}

func (b *x25519Backend) RecomputePublic(_ context.Context, privateKey string) (string, error) {
	return PublicFromPrivate(privateKey)
}

// PublicFromPrivate derives the encoded public key from an encoded private
// key with local curve math. The engine uses the same encoding, so this
// works for keys from either real backend.
func PublicFromPrivate(privateKey string) (string, error) {
	raw, err := decodeKey(privateKey)
	if err != nil {
		return "", err
	}
	pub, err := curve25519.X25519(raw, curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("x25519: %w", err)
	}
	return encodeKey(pub), nil
}

// clamp applies the RFC 7748 scalar clamping so the stored private key is
// in canonical form.
func clamp(k []byte) {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
}

// randomBackend emits cryptographically random bytes as placeholder
// material. The result is not a valid key-agreement pair; it only keeps the
// system operable when no real backend is available.
type randomBackend struct{}

func (b *randomBackend) Name() string { return "random-placeholder" }
func (b *randomBackend) Unsafe() bool { return true }

func (b *randomBackend) GenerateKeyPair(_ context.Context) (string, string, error) {
	priv := make([]byte, keyLen)
	pub := make([]byte, keyLen)
	if _, err := rand.Read(priv); err != nil {
		return "", "", err
	}
	if _, err := rand.Read(pub); err != nil {
		return "", "", err
	}
	return encodeKey(priv), encodeKey(pub), nil
}

func (b *randomBackend) RecomputePublic(_ context.Context, _ string) (string, error) {
	return "", fmt.Errorf("placeholder material has no derivable public key")
}
