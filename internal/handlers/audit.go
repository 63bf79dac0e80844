package handlers

import (
	"net/http"
	"time"

	"github.com/veilnet/realityd/internal/database"
)

// RunAudit handles POST /api/v1/audit.
func RunAudit(w http.ResponseWriter, r *http.Request) {
	if Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "auditor not initialized")
		return
	}

	report, err := Auditor.Audit(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ShowKeys handles GET /api/v1/keys. The private key never leaves the
// config file; this only exposes what subscribers already receive.
func ShowKeys(w http.ResponseWriter, r *http.Request) {
	if Store == nil {
		writeError(w, http.StatusServiceUnavailable, "config store not initialized")
		return
	}

	cfg, err := Store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot load engine config: "+err.Error())
		return
	}

	publicKey, _ := database.GetSetting("active_public_key")
	backend, _ := database.GetSetting("active_key_backend")
	lastRotation, _ := database.GetSetting("last_rotation")

	resp := map[string]interface{}{
		"public_key":    publicKey,
		"backend":       backend,
		"short_ids":     cfg.ShortIDs(),
		"server_names":  cfg.ServerNames(),
		"listen_port":   cfg.ListenPort(),
		"protocol":      cfg.Protocol(),
		"last_rotation": lastRotation,
		"generated_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if Generator != nil {
		resp["available_backends"] = Generator.Backends()
	}
	writeJSON(w, http.StatusOK, resp)
}
