package handlers

import (
	"net/http"

	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/procctl"
)

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if database.DB != nil {
		sqlDB, err := database.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	engineStatus := "unknown"
	engineBackend := "none"
	if proc := procctl.Get(); proc != nil {
		engineBackend = proc.BackendName()
		if proc.Alive(r.Context()) {
			engineStatus = "running"
		} else {
			engineStatus = "stopped"
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":         status,
		"database":       dbStatus,
		"engine":         engineStatus,
		"engine_backend": engineBackend,
	})
}
