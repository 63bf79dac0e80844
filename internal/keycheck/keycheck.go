// Package keycheck validates a credential set before it is allowed to touch
// live configuration. Issues carry a severity: warnings are surfaced but do
// not block, hard issues abort the rotation.
package keycheck

import (
	"context"
	"fmt"
	"regexp"

	"github.com/veilnet/realityd/internal/engineconfig"
	"github.com/veilnet/realityd/internal/keygen"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityHard    Severity = "hard"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

type Result struct {
	Issues []Issue `json:"issues"`
}

// Blocked reports whether any hard issue was found.
func (r Result) Blocked() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityHard {
			return true
		}
	}
	return false
}

func (r *Result) add(sev Severity, format string, args ...interface{}) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Message: fmt.Sprintf(format, args...)})
}

// placeholder sentinels that have shown up in broken configs
var placeholderValues = map[string]bool{
	"":            true,
	"PLACEHOLDER": true,
	"CHANGEME":    true,
	"null":        true,
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

// Recomputer derives a public key from a private key via the backend that
// generated it. *keygen.Generator satisfies this.
type Recomputer interface {
	Recompute(ctx context.Context, backendName, privateKey string) (string, error)
}

// Validator checks structural and cryptographic correctness of a credential
// set against a target configuration.
type Validator struct {
	shortIDLen int
	recomputer Recomputer

	// Deep enables recomputing the public key from the private key and
	// comparing byte for byte.
	Deep bool
}

func NewValidator(shortIDLen int, recomputer Recomputer) *Validator {
	if shortIDLen < keygen.MinShortIDLen || shortIDLen > keygen.MaxShortIDLen {
		shortIDLen = keygen.MaxShortIDLen
	}
	return &Validator{shortIDLen: shortIDLen, recomputer: recomputer, Deep: true}
}

// Validate runs the check sequence in order: placeholder sentinels, length
// heuristics, short ID shape, then the optional deep key-pair check. A
// mismatch on the deep check is always hard, never silently accepted.
func (v *Validator) Validate(ctx context.Context, cs *keygen.CredentialSet, cfg *engineconfig.PrimaryConfig) Result {
	var r Result
	if cs == nil {
		r.add(SeverityHard, "no credential set")
		return r
	}

	if placeholderValues[cs.PrivateKey] {
		r.add(SeverityHard, "private key is empty or a placeholder sentinel")
	}
	if placeholderValues[cs.PublicKey] {
		r.add(SeverityHard, "public key is empty or a placeholder sentinel")
	}
	if r.Blocked() {
		return r
	}

	// Cheap sanity filter before any crypto: real encoded keys are 43
	// chars; anything shorter than half of that cannot be key material.
	checkLen := func(name, key string) {
		if len(key) < keygen.EncodedKeyLen/2 {
			r.add(SeverityHard, "%s key too short (%d chars)", name, len(key))
		} else if len(key) != keygen.EncodedKeyLen {
			r.add(SeverityWarning, "%s key length %d, expected %d", name, len(key), keygen.EncodedKeyLen)
		}
	}
	checkLen("private", cs.PrivateKey)
	checkLen("public", cs.PublicKey)

	if len(cs.ShortID) != v.shortIDLen {
		r.add(SeverityHard, "short id length %d, configured length is %d", len(cs.ShortID), v.shortIDLen)
	} else if !hexPattern.MatchString(cs.ShortID) {
		r.add(SeverityHard, "short id %q is not hexadecimal", cs.ShortID)
	}

	if cfg != nil && cfg.ListenPort() <= 0 {
		r.add(SeverityWarning, "target config has no listen port")
	}

	if v.Deep && !cs.Unsafe && v.recomputer != nil && !r.Blocked() {
		pub, err := v.recomputer.Recompute(ctx, cs.Backend, cs.PrivateKey)
		if err != nil {
			r.add(SeverityWarning, "deep check unavailable for backend %s: %v", cs.Backend, err)
		} else if pub != cs.PublicKey {
			r.add(SeverityHard, "key pair mismatch: recomputed public key does not match")
		}
	}

	return r
}
