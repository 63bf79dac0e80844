package rotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/veilnet/realityd/internal/artifacts"
	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/engineconfig"
	"github.com/veilnet/realityd/internal/keycheck"
	"github.com/veilnet/realityd/internal/keygen"
	"github.com/veilnet/realityd/internal/procctl"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerRepair    Trigger = "repair"

	triggerReconcile Trigger = "reconcile"
)

// ApplyFailedMessage is the operator-facing headline when the engine did
// not confirm a restart. The on-disk config and the running process may be
// out of sync until the operator intervenes.
const ApplyFailedMessage = "configuration updated but the service did not confirm restart; verify manually"

// ErrRotationInFlight is returned when another rotation holds the lock.
// Rotations are never queued; the caller retries once the current one ends.
var ErrRotationInFlight = errors.New("rotation: another rotation is in flight")

// KeyGenerator is the slice of *keygen.Generator the coordinator needs.
type KeyGenerator interface {
	Generate(ctx context.Context) (*keygen.CredentialSet, error)
	Backends() []string
}

// Validator is satisfied by *keycheck.Validator.
type Validator interface {
	Validate(ctx context.Context, cs *keygen.CredentialSet, cfg *engineconfig.PrimaryConfig) keycheck.Result
}

// Result captures the outcome of one rotation or reconcile run.
type Result struct {
	Trigger          Trigger               `json:"trigger"`
	NewCredentialSet *keygen.CredentialSet `json:"new_credential_set,omitempty"`
	OldPublicKey     string                `json:"old_public_key,omitempty"`
	UsedFallback     bool                  `json:"used_fallback"`
	PartialFailures  []uint                `json:"partial_failures"`
	ApplyFailed      bool                  `json:"apply_failed"`
	BackupName       string                `json:"backup_name,omitempty"`
	Warnings         []keycheck.Issue      `json:"warnings,omitempty"`
	Timestamp        time.Time             `json:"timestamp"`
}

// Coordinator serializes rotations against the primary config. Only one
// may be in flight at a time; per-subscriber propagation inside a rotation
// fans out over a bounded worker pool.
type Coordinator struct {
	mu sync.Mutex

	gen       KeyGenerator
	validator Validator
	store     *engineconfig.Store
	prop      *artifacts.Propagator

	host    string
	workers int
	grace   time.Duration
}

func NewCoordinator(gen KeyGenerator, validator Validator, store *engineconfig.Store, prop *artifacts.Propagator, host string, workers int, grace time.Duration) *Coordinator {
	if workers <= 0 {
		workers = 4
	}
	if grace <= 0 {
		grace = 20 * time.Second
	}
	return &Coordinator{
		gen:       gen,
		validator: validator,
		store:     store,
		prop:      prop,
		host:      host,
		workers:   workers,
		grace:     grace,
	}
}

// Rotate replaces the credential set wholesale and propagates it. Aborts
// before any persisted change on backup, generation, or hard validation
// failure; per-subscriber propagation failures are collected, not fatal.
func (c *Coordinator) Rotate(ctx context.Context, trigger Trigger) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrRotationInFlight
	}
	defer c.mu.Unlock()

	cfg, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("rotation: load config: %w", err)
	}

	result := &Result{
		Trigger:         trigger,
		PartialFailures: []uint{},
		Timestamp:       time.Now().UTC(),
	}
	if pub, err := keygen.PublicFromPrivate(cfg.PrivateKey()); err == nil {
		result.OldPublicKey = pub
	}

	// BACKUP. If the recovery point cannot be written, nothing else runs.
	backup, err := c.store.Backup(cfg)
	if err != nil {
		return nil, fmt.Errorf("rotation: backup before mutate: %w", err)
	}
	result.BackupName = backup.Name

	// GENERATE
	cs, err := c.gen.Generate(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotation: generate: %w", err)
	}
	result.NewCredentialSet = cs
	result.UsedFallback = cs.Backend != c.gen.Backends()[0]

	// VALIDATE
	check := c.validator.Validate(ctx, cs, cfg)
	for _, is := range check.Issues {
		if is.Severity == keycheck.SeverityWarning {
			result.Warnings = append(result.Warnings, is)
			log.Printf("rotation: validation warning: %s", is.Message)
		}
	}
	if check.Blocked() {
		return nil, fmt.Errorf("rotation: validation blocked: %s", hardIssues(check))
	}

	// PROPAGATE: the config replace is atomic; subscriber fan-out after it
	// is best-effort per subscriber.
	subs, err := database.ListSubscribers()
	if err != nil {
		return nil, fmt.Errorf("rotation: list subscribers: %w", err)
	}

	cfg.SetCredentials(cs.PrivateKey, cs.ShortID)
	cfg.SetClients(clientsFor(subs))
	if err := c.store.Save(cfg); err != nil {
		return nil, fmt.Errorf("rotation: persist config: %w", err)
	}

	recordActiveCredentials(cs, result.Timestamp)

	creds := artifacts.Credentials{PublicKey: cs.PublicKey, ShortID: cs.ShortID}
	c.propagate(subs, creds, c.networkParams(cfg), result)

	// APPLY + VERIFY
	c.applyAndVerify(ctx, result)

	c.recordEvent(result)

	log.Printf("rotation: %s rotation complete (backend=%s, fallback=%v, partial_failures=%d, apply_failed=%v)",
		trigger, cs.Backend, result.UsedFallback, len(result.PartialFailures), result.ApplyFailed)
	return result, nil
}

// Reconcile re-runs propagation, apply, and verify against the current
// on-disk config. It generates nothing and is safe to run repeatedly, e.g.
// after an interrupted rotation left the process behind the config.
func (c *Coordinator) Reconcile(ctx context.Context) (*Result, error) {
	if !c.mu.TryLock() {
		return nil, ErrRotationInFlight
	}
	defer c.mu.Unlock()

	cfg, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("rotation: load config: %w", err)
	}

	result := &Result{
		Trigger:         triggerReconcile,
		PartialFailures: []uint{},
		Timestamp:       time.Now().UTC(),
	}

	pub, err := activePublicKey(cfg)
	if err != nil {
		return nil, fmt.Errorf("rotation: reconcile: %w", err)
	}

	subs, err := database.ListSubscribers()
	if err != nil {
		return nil, fmt.Errorf("rotation: list subscribers: %w", err)
	}

	cfg.SetClients(clientsFor(subs))
	if err := c.store.Save(cfg); err != nil {
		return nil, fmt.Errorf("rotation: persist config: %w", err)
	}

	creds := artifacts.Credentials{PublicKey: pub, ShortID: cfg.ShortIDs()[0]}
	c.propagate(subs, creds, c.networkParams(cfg), result)

	c.applyAndVerify(ctx, result)

	c.recordEvent(result)

	log.Printf("rotation: reconcile complete (partial_failures=%d, apply_failed=%v)",
		len(result.PartialFailures), result.ApplyFailed)
	return result, nil
}

// propagate updates every subscriber's cached credentials and regenerates
// its artifacts over a bounded worker pool. A failure on one subscriber is
// recorded and does not stop the others.
func (c *Coordinator) propagate(subs []database.Subscriber, creds artifacts.Credentials, np artifacts.NetworkParams, result *Result) {
	if np.Host == "" {
		log.Printf("rotation: PUBLIC_HOST not configured, generated URIs will have no host")
	}

	jobs := make(chan database.Subscriber)
	var wg sync.WaitGroup
	var pmu sync.Mutex

	fail := func(id uint, err error) {
		pmu.Lock()
		result.PartialFailures = append(result.PartialFailures, id)
		pmu.Unlock()
		log.Printf("rotation: subscriber %d propagation failed: %v", id, err)
	}

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sub := range jobs {
				if err := database.SetCachedCredentials(sub.ID, creds.PublicKey, creds.ShortID); err != nil {
					fail(sub.ID, err)
					continue
				}
				if _, err := c.prop.Regenerate(&sub, creds, np); err != nil {
					fail(sub.ID, err)
				}
			}
		}()
	}

	for _, sub := range subs {
		jobs <- sub
	}
	close(jobs)
	wg.Wait()
}

// applyAndVerify requests one engine restart, then polls liveness under the
// grace period. No automatic rollback on failure: the backup is retained
// and the result carries the headline for the operator.
func (c *Coordinator) applyAndVerify(ctx context.Context, result *Result) {
	proc := procctl.Get()
	if proc == nil {
		result.ApplyFailed = true
		log.Printf("rotation: no process-control backend, engine not restarted: %s", ApplyFailedMessage)
		return
	}

	if err := proc.Restart(ctx); err != nil {
		result.ApplyFailed = true
		log.Printf("rotation: restart request failed: %v: %s", err, ApplyFailedMessage)
		return
	}

	b := retry.WithMaxDuration(c.grace, retry.NewConstant(time.Second))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if proc.Alive(ctx) {
			return nil
		}
		return retry.RetryableError(errors.New("engine not confirmed alive"))
	})
	if err != nil {
		result.ApplyFailed = true
		log.Printf("rotation: %s (backup %s retained)", ApplyFailedMessage, result.BackupName)
	}
}

func (c *Coordinator) networkParams(cfg *engineconfig.PrimaryConfig) artifacts.NetworkParams {
	return artifacts.NetworkParams{
		Host:       c.host,
		Port:       cfg.ListenPort(),
		ServerName: cfg.ServerNames()[0],
	}
}

func (c *Coordinator) recordEvent(result *Result) {
	ev := &database.RotationEvent{
		Trigger:         string(result.Trigger),
		OldPublicKey:    result.OldPublicKey,
		UsedFallback:    result.UsedFallback,
		PartialFailures: database.EncodeSubscriberIDs(result.PartialFailures),
		ApplyFailed:     result.ApplyFailed,
		BackupName:      result.BackupName,
	}
	if result.NewCredentialSet != nil {
		ev.NewPublicKey = result.NewCredentialSet.PublicKey
	}
	if err := database.RecordRotation(ev); err != nil {
		log.Printf("rotation: failed to record rotation event: %v", err)
	}
}

// activePublicKey resolves the public counterpart of the on-disk private
// key, preferring the recorded value since placeholder material has no
// derivable public key.
func activePublicKey(cfg *engineconfig.PrimaryConfig) (string, error) {
	if pub, err := database.GetSetting("active_public_key"); err == nil && pub != "" {
		return pub, nil
	}
	return keygen.PublicFromPrivate(cfg.PrivateKey())
}

func recordActiveCredentials(cs *keygen.CredentialSet, ts time.Time) {
	for key, value := range map[string]string{
		"active_public_key":  cs.PublicKey,
		"active_key_backend": cs.Backend,
		"last_rotation":      ts.Format(time.RFC3339),
	} {
		if err := database.SetSetting(key, value); err != nil {
			log.Printf("rotation: failed to record setting %s: %v", key, err)
		}
	}
}

func clientsFor(subs []database.Subscriber) []engineconfig.Client {
	clients := make([]engineconfig.Client, len(subs))
	for i, s := range subs {
		clients[i] = engineconfig.Client{ID: s.ClientUUID, Email: s.Label, Flow: s.Flow}
	}
	return clients
}

func hardIssues(r keycheck.Result) string {
	var msgs []string
	for _, is := range r.Issues {
		if is.Severity == keycheck.SeverityHard {
			msgs = append(msgs, is.Message)
		}
	}
	if len(msgs) == 0 {
		return "unknown issue"
	}
	out := msgs[0]
	for _, m := range msgs[1:] {
		out += "; " + m
	}
	return out
}
