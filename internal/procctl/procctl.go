// Package procctl controls the external transport-engine process. The
// engine reads its credentials only at process start, so every rotation
// ends with a restart request through this package.
package procctl

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/veilnet/realityd/internal/config"
	"github.com/veilnet/realityd/internal/database"
)

// Status is a point-in-time view of the engine process.
type Status struct {
	Running bool   `json:"running"`
	Backend string `json:"backend"`
	Detail  string `json:"detail,omitempty"`
}

// Controller abstracts how the engine process is managed on this host.
type Controller interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error

	// Alive reports process liveness; the rotation verify step polls it.
	Alive(ctx context.Context) bool
	Status(ctx context.Context) (Status, error)
}

var (
	current Controller
	mu      sync.RWMutex
)

// Init selects a backend. A docker container name forces the docker
// backend; otherwise systemd is preferred with docker as fallback. The
// detected choice is persisted so later runs skip probing.
func Init(ctx context.Context) error {
	backend, err := database.GetSetting("process_backend")
	if err != nil {
		backend = "auto"
	}

	if config.Cfg.DockerContainer != "" && backend == "auto" {
		backend = "docker"
	}

	if backend == "auto" || backend == "systemd" {
		sysd := &SystemdController{service: config.Cfg.ServiceName}
		if err := sysd.Initialize(ctx); err == nil && sysd.IsAvailable(ctx) {
			mu.Lock()
			current = sysd
			mu.Unlock()
			log.Println("procctl: using systemd backend")
			if backend == "auto" {
				_ = database.SetSetting("process_backend", "systemd")
			}
			return nil
		} else if err != nil {
			log.Printf("procctl: systemd backend unavailable: %v", err)
		}
	}

	if backend == "auto" || backend == "docker" {
		docker := &DockerController{container: config.Cfg.DockerContainer}
		if err := docker.Initialize(ctx); err == nil && docker.IsAvailable(ctx) {
			mu.Lock()
			current = docker
			mu.Unlock()
			log.Println("procctl: using docker backend")
			if backend == "auto" {
				_ = database.SetSetting("process_backend", "docker")
			}
			return nil
		} else if err != nil {
			log.Printf("procctl: docker backend unavailable: %v", err)
		}
	}

	log.Println("WARNING: no process-control backend available")
	return fmt.Errorf("no process-control backend available (tried: %s)", backend)
}

// Get returns the selected controller, or nil when Init failed.
func Get() Controller {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Set installs a controller directly; tests use it to bypass detection.
func Set(c Controller) {
	mu.Lock()
	current = c
	mu.Unlock()
}
