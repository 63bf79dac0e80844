// Package audit detects drift between the engine config, the subscriber
// records, and the running process environment: mismatched cached keys,
// malformed or unaccepted short IDs, unreachable camouflage domains. Hard
// findings can trigger a repair rotation when the auto-repair policy is on.
package audit

import (
	"context"
	"crypto/tls"
	"log"
	"net"
	"sync"
	"time"

	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/engineconfig"
	"github.com/veilnet/realityd/internal/keycheck"
	"github.com/veilnet/realityd/internal/keygen"
	"github.com/veilnet/realityd/internal/rotation"
)

// ProbeResult is the reachability outcome for one camouflage domain.
type ProbeResult struct {
	Domain   string        `json:"domain"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

type Report struct {
	Issues          []keycheck.Issue `json:"issues"`
	Probes          []ProbeResult    `json:"probes"`
	DriftDetected   bool             `json:"drift_detected"`
	RepairTriggered bool             `json:"repair_triggered"`
}

// Rotator is the repair entry point; *rotation.Coordinator satisfies it.
type Rotator interface {
	Rotate(ctx context.Context, trigger rotation.Trigger) (*rotation.Result, error)
}

// probeFunc performs one reachability probe: name resolution, transport
// connect, and a minimal TLS handshake. Package var so tests run offline.
var probeFunc = defaultProbe

func defaultProbe(ctx context.Context, domain string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := net.DefaultResolver.LookupHost(ctx, domain); err != nil {
		return err
	}

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(domain, "443"))
	if err != nil {
		return err
	}
	defer conn.Close()

	tlsConn := tls.Client(conn, &tls.Config{ServerName: domain})
	defer tlsConn.Close()
	return tlsConn.HandshakeContext(ctx)
}

type Auditor struct {
	store        *engineconfig.Store
	validator    *keycheck.Validator
	rotator      Rotator
	probeTimeout time.Duration
}

func NewAuditor(store *engineconfig.Store, validator *keycheck.Validator, rotator Rotator, probeTimeout time.Duration) *Auditor {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Auditor{store: store, validator: validator, rotator: rotator, probeTimeout: probeTimeout}
}

// Audit runs the full consistency check. Probe failures are warnings only:
// an unreachable camouflage domain degrades the disguise, not the
// cryptography, and must not block the rest of the audit.
func (a *Auditor) Audit(ctx context.Context) (*Report, error) {
	cfg, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	report := &Report{Issues: []keycheck.Issue{}}
	add := func(sev keycheck.Severity, msg string) {
		report.Issues = append(report.Issues, keycheck.Issue{Severity: sev, Message: msg})
	}

	cs := a.activeCredentials(cfg)
	check := a.validator.Validate(ctx, cs, cfg)
	report.Issues = append(report.Issues, check.Issues...)

	if cs.Unsafe {
		add(keycheck.SeverityHard, "active credential set is placeholder material, rotate once a real backend is available")
	}

	a.checkSubscribers(cfg, cs, add)

	report.Probes = a.probeDomains(ctx, cfg.ServerNames())
	for _, p := range report.Probes {
		if !p.OK {
			add(keycheck.SeverityWarning, "camouflage domain "+p.Domain+" unreachable: "+p.Error)
		}
	}

	for _, is := range report.Issues {
		if is.Severity == keycheck.SeverityHard {
			report.DriftDetected = true
			break
		}
	}

	if report.DriftDetected && autoRepairEnabled() {
		log.Printf("audit: drift detected, auto-repair enabled, starting repair rotation")
		if _, err := a.rotator.Rotate(ctx, rotation.TriggerRepair); err != nil {
			log.Printf("audit: repair rotation failed: %v", err)
			add(keycheck.SeverityHard, "repair rotation failed: "+err.Error())
		} else {
			report.RepairTriggered = true
		}
	}

	return report, nil
}

// activeCredentials reconstructs the credential-set view of the live
// config for validation.
func (a *Auditor) activeCredentials(cfg *engineconfig.PrimaryConfig) *keygen.CredentialSet {
	cs := &keygen.CredentialSet{
		PrivateKey: cfg.PrivateKey(),
		ShortID:    cfg.ShortIDs()[0],
	}
	if backend, err := database.GetSetting("active_key_backend"); err == nil {
		cs.Backend = backend
		cs.Unsafe = backend == "random-placeholder"
	}
	if pub, err := database.GetSetting("active_public_key"); err == nil && pub != "" {
		cs.PublicKey = pub
	} else if pub, err := keygen.PublicFromPrivate(cs.PrivateKey); err == nil {
		cs.PublicKey = pub
	}
	return cs
}

func (a *Auditor) checkSubscribers(cfg *engineconfig.PrimaryConfig, cs *keygen.CredentialSet, add func(keycheck.Severity, string)) {
	subs, err := database.ListSubscribers()
	if err != nil {
		add(keycheck.SeverityHard, "cannot list subscribers: "+err.Error())
		return
	}

	accepted := make(map[string]bool, len(cfg.ShortIDs()))
	for _, sid := range cfg.ShortIDs() {
		accepted[sid] = true
	}
	inConfig := make(map[string]bool, len(cfg.Clients()))
	for _, cl := range cfg.Clients() {
		inConfig[cl.ID] = true
	}

	for _, sub := range subs {
		if sub.CachedPublicKey != cs.PublicKey {
			add(keycheck.SeverityHard, "subscriber "+sub.Label+" cached public key does not match the active key")
		}
		if !accepted[sub.CachedShortID] {
			add(keycheck.SeverityHard, "subscriber "+sub.Label+" cached short id is not in the accepted list")
		}
		if !inConfig[sub.ClientUUID] {
			add(keycheck.SeverityHard, "subscriber "+sub.Label+" missing from the engine client list")
		}
	}
}

// probeDomains checks every camouflage domain concurrently; one slow or
// dead domain cannot stall the audit of the others.
func (a *Auditor) probeDomains(ctx context.Context, domains []string) []ProbeResult {
	results := make([]ProbeResult, len(domains))
	var wg sync.WaitGroup
	for i, domain := range domains {
		wg.Add(1)
		go func(i int, domain string) {
			defer wg.Done()
			start := time.Now()
			err := probeFunc(ctx, domain, a.probeTimeout)
			results[i] = ProbeResult{Domain: domain, OK: err == nil, Duration: time.Since(start)}
			if err != nil {
				results[i].Error = err.Error()
			}
		}(i, domain)
	}
	wg.Wait()
	return results
}

func autoRepairEnabled() bool {
	v, err := database.GetSetting("auto_repair")
	return err == nil && v == "true"
}
