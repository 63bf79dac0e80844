package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ListBackups handles GET /api/v1/backups.
func ListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := Store.ListBackups()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list backups: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, backups)
}

// RestoreBackup handles POST /api/v1/backups/{name}/restore. It installs
// the snapshot as the live config; the caller is expected to follow up
// with a reconcile so the engine and artifacts catch up.
func RestoreBackup(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := Store.RestoreBackup(name); err != nil {
		writeError(w, http.StatusBadRequest, "restore failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"restored": name,
		"next":     "POST /api/v1/reconcile to propagate and restart the engine",
	})
}
