package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/veilnet/realityd/internal/artifacts"
	"github.com/veilnet/realityd/internal/audit"
	"github.com/veilnet/realityd/internal/config"
	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/engineconfig"
	"github.com/veilnet/realityd/internal/handlers"
	"github.com/veilnet/realityd/internal/keycheck"
	"github.com/veilnet/realityd/internal/keygen"
	"github.com/veilnet/realityd/internal/procctl"
	"github.com/veilnet/realityd/internal/rotation"
)

func main() {
	// Handle CLI shortcuts before starting the daemon
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--rotate":
			runCLICommand("rotate")
			return
		case "--reconcile":
			runCLICommand("reconcile")
			return
		case "--audit":
			runCLICommand("audit")
			return
		case "--show-keys":
			runCLICommand("show-keys")
			return
		}
	}

	config.Load()

	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	log.Printf("Config: EngineConfigPath=%s, ServiceName=%s, PublicHost=%s, ShortIDLength=%d",
		config.Cfg.EngineConfigPath, config.Cfg.ServiceName, config.Cfg.PublicHost, config.Cfg.ShortIDLength)

	ctx := context.Background()
	if err := procctl.Init(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	}

	coord, _ := buildCore()

	cronRunner := startRotationCron(coord)
	if cronRunner != nil {
		defer cronRunner.Stop()
	}

	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	// Health (no auth; the API binds localhost, the operator surface in
	// front of it owns authentication)
	r.Get("/health", handlers.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/rotation", handlers.RotateCredentials)
		r.Post("/reconcile", handlers.ReconcileCredentials)
		r.Get("/rotations", handlers.ListRotations)
		r.Post("/audit", handlers.RunAudit)
		r.Get("/keys", handlers.ShowKeys)

		r.Get("/backups", handlers.ListBackups)
		r.Post("/backups/{name}/restore", handlers.RestoreBackup)

		r.Get("/subscribers", handlers.ListSubscribers)
		r.Post("/subscribers", handlers.CreateSubscriber)
		r.Get("/subscribers/{id}", handlers.GetSubscriber)
		r.Put("/subscribers/{id}", handlers.UpdateSubscriber)
		r.Delete("/subscribers/{id}", handlers.DeleteSubscriber)
		r.Get("/subscribers/{id}/artifact", handlers.GetSubscriberArtifact)
	})

	srv := &http.Server{
		Addr:    config.Cfg.ListenAddr,
		Handler: r,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", config.Cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Shutdown error: %v", err)
	}
	log.Println("Server stopped")
}

// buildCore wires the credential lifecycle components and installs them
// into the handlers package.
func buildCore() (*rotation.Coordinator, *audit.Auditor) {
	gen := keygen.NewGenerator(config.Cfg.EngineBinary, config.Cfg.ShortIDLength,
		config.Duration(config.Cfg.KeygenTimeout, 10*time.Second))
	validator := keycheck.NewValidator(config.Cfg.ShortIDLength, gen)
	store := engineconfig.NewStore(config.Cfg.EngineConfigPath, config.Cfg.BackupDir)
	prop := artifacts.NewPropagator(config.Cfg.ArtifactDir)

	coord := rotation.NewCoordinator(gen, validator, store, prop,
		config.Cfg.PublicHost, config.Cfg.PropagateWorkers,
		config.Duration(config.Cfg.VerifyGracePeriod, 20*time.Second))
	auditor := audit.NewAuditor(store, validator, coord,
		config.Duration(config.Cfg.ProbeTimeout, 5*time.Second))

	handlers.Generator = gen
	handlers.Store = store
	handlers.Propagator = prop
	handlers.Coordinator = coord
	handlers.Auditor = auditor
	handlers.PublicHost = config.Cfg.PublicHost

	return coord, auditor
}

func runCLICommand(command string) {
	config.Load()
	if err := database.Init(); err != nil {
		log.Fatalf("Database init: %v", err)
	}
	defer database.Close()

	ctx := context.Background()
	if err := procctl.Init(ctx); err != nil {
		log.Printf("WARNING: %v", err)
	}

	coord, auditor := buildCore()

	var out interface{}
	var err error
	switch command {
	case "rotate":
		out, err = coord.Rotate(ctx, rotation.TriggerManual)
	case "reconcile":
		out, err = coord.Reconcile(ctx)
	case "audit":
		out, err = auditor.Audit(ctx)
	case "show-keys":
		out, err = showKeys()
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatalf("encode output: %v", err)
	}
}

func showKeys() (interface{}, error) {
	store := engineconfig.NewStore(config.Cfg.EngineConfigPath, config.Cfg.BackupDir)
	cfg, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	publicKey, _ := database.GetSetting("active_public_key")
	backend, _ := database.GetSetting("active_key_backend")
	return map[string]interface{}{
		"public_key":   publicKey,
		"backend":      backend,
		"short_ids":    cfg.ShortIDs(),
		"server_names": cfg.ServerNames(),
		"listen_port":  cfg.ListenPort(),
	}, nil
}
