package keycheck

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/veilnet/realityd/internal/keygen"
)

// derivingRecomputer recomputes the public key locally regardless of backend.
type derivingRecomputer struct{}

func (derivingRecomputer) Recompute(_ context.Context, _, privateKey string) (string, error) {
	return keygen.PublicFromPrivate(privateKey)
}

func newKeyPair(t *testing.T) (string, string) {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("rand: %v", err)
	}
	priv := base64.RawURLEncoding.EncodeToString(raw)
	pub, err := keygen.PublicFromPrivate(priv)
	if err != nil {
		t.Fatalf("derive public key: %v", err)
	}
	return priv, pub
}

func validSet(t *testing.T) *keygen.CredentialSet {
	t.Helper()
	priv, pub := newKeyPair(t)
	return &keygen.CredentialSet{
		PrivateKey: priv,
		PublicKey:  pub,
		ShortID:    "0453245bd68b99ae",
		Backend:    "x25519-local",
	}
}

func hardMessages(r Result) []string {
	var out []string
	for _, is := range r.Issues {
		if is.Severity == SeverityHard {
			out = append(out, is.Message)
		}
	}
	return out
}

func TestValidateAcceptsGoodSet(t *testing.T) {
	v := NewValidator(16, derivingRecomputer{})
	r := v.Validate(context.Background(), validSet(t), nil)
	if r.Blocked() {
		t.Fatalf("valid set blocked: %v", hardMessages(r))
	}
	if len(r.Issues) != 0 {
		t.Errorf("unexpected issues: %+v", r.Issues)
	}
}

func TestValidateRejectsPlaceholder(t *testing.T) {
	for _, sentinel := range []string{"", "PLACEHOLDER", "CHANGEME", "null"} {
		cs := validSet(t)
		cs.PrivateKey = sentinel
		r := NewValidator(16, derivingRecomputer{}).Validate(context.Background(), cs, nil)
		if !r.Blocked() {
			t.Errorf("sentinel %q not blocked", sentinel)
		}
	}
}

func TestValidateShortIDShape(t *testing.T) {
	v := NewValidator(16, derivingRecomputer{})

	cs := validSet(t)
	cs.ShortID = "zz1122"
	r := v.Validate(context.Background(), cs, nil)
	if !r.Blocked() {
		t.Fatal("non-hex short id of wrong length was not blocked")
	}

	cs = validSet(t)
	cs.ShortID = "zzzzzzzzzzzzzzzz"
	r = v.Validate(context.Background(), cs, nil)
	blocked := false
	for _, msg := range hardMessages(r) {
		if strings.Contains(msg, "not hexadecimal") {
			blocked = true
		}
	}
	if !blocked {
		t.Fatalf("16-char non-hex short id accepted: %+v", r.Issues)
	}

	cs = validSet(t)
	cs.ShortID = "0453245bd68b99ae"
	if r := v.Validate(context.Background(), cs, nil); r.Blocked() {
		t.Fatalf("valid short id blocked: %v", hardMessages(r))
	}
}

func TestValidateKeyLengthHeuristics(t *testing.T) {
	v := NewValidator(16, derivingRecomputer{})
	v.Deep = false

	cs := validSet(t)
	cs.PublicKey = "tooshort"
	if r := v.Validate(context.Background(), cs, nil); !r.Blocked() {
		t.Error("8-char public key not blocked")
	}

	cs = validSet(t)
	cs.PublicKey = cs.PublicKey + "="
	r := v.Validate(context.Background(), cs, nil)
	if r.Blocked() {
		t.Errorf("44-char key should warn, not block: %v", hardMessages(r))
	}
	if len(r.Issues) == 0 {
		t.Error("44-char key produced no warning")
	}
}

func TestValidateDeepMismatch(t *testing.T) {
	cs := validSet(t)
	_, otherPub := newKeyPair(t)
	cs.PublicKey = otherPub

	r := NewValidator(16, derivingRecomputer{}).Validate(context.Background(), cs, nil)
	if !r.Blocked() {
		t.Fatal("mismatched key pair was not blocked")
	}
	found := false
	for _, msg := range hardMessages(r) {
		if strings.Contains(msg, "mismatch") {
			found = true
		}
	}
	if !found {
		t.Errorf("no mismatch issue recorded: %+v", r.Issues)
	}
}

func TestValidateSkipsDeepForUnsafeSets(t *testing.T) {
	cs := validSet(t)
	_, otherPub := newKeyPair(t)
	cs.PublicKey = otherPub
	cs.Unsafe = true
	cs.Backend = "random-placeholder"

	r := NewValidator(16, derivingRecomputer{}).Validate(context.Background(), cs, nil)
	if r.Blocked() {
		t.Fatalf("unsafe set should skip the deep check: %v", hardMessages(r))
	}
}
