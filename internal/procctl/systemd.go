package procctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runSystemctl executes systemctl and returns its combined output. Package
// var so tests run without systemd.
var runSystemctl = func(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "systemctl", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

// SystemdController manages the engine as a systemd unit on the host.
type SystemdController struct {
	service   string
	available bool
}

func (s *SystemdController) Initialize(ctx context.Context) error {
	if s.service == "" {
		return fmt.Errorf("service name not configured")
	}
	if _, err := exec.LookPath("systemctl"); err != nil {
		return fmt.Errorf("systemctl not found: %w", err)
	}
	// "cat" fails for units that don't exist, unlike is-active.
	if out, err := runSystemctl(ctx, "cat", s.service); err != nil {
		return fmt.Errorf("unit %s: %s", s.service, out)
	}
	s.available = true
	return nil
}

func (s *SystemdController) IsAvailable(_ context.Context) bool { return s.available }

func (s *SystemdController) BackendName() string { return "systemd" }

func (s *SystemdController) Start(ctx context.Context) error {
	return s.run(ctx, "start")
}

func (s *SystemdController) Stop(ctx context.Context) error {
	return s.run(ctx, "stop")
}

func (s *SystemdController) Restart(ctx context.Context) error {
	return s.run(ctx, "restart")
}

func (s *SystemdController) run(ctx context.Context, verb string) error {
	if out, err := runSystemctl(ctx, verb, s.service); err != nil {
		return fmt.Errorf("systemctl %s %s: %s", verb, s.service, out)
	}
	return nil
}

func (s *SystemdController) Alive(ctx context.Context) bool {
	out, err := runSystemctl(ctx, "is-active", s.service)
	return err == nil && out == "active"
}

func (s *SystemdController) Status(ctx context.Context) (Status, error) {
	out, _ := runSystemctl(ctx, "is-active", s.service)
	return Status{
		Running: out == "active",
		Backend: s.BackendName(),
		Detail:  out,
	}, nil
}
