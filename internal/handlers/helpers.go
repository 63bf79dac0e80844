package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/veilnet/realityd/internal/artifacts"
	"github.com/veilnet/realityd/internal/audit"
	"github.com/veilnet/realityd/internal/engineconfig"
	"github.com/veilnet/realityd/internal/keygen"
	"github.com/veilnet/realityd/internal/rotation"
)

// Collaborators are installed by main before the router starts.
var (
	Coordinator *rotation.Coordinator
	Auditor     *audit.Auditor
	Store       *engineconfig.Store
	Propagator  *artifacts.Propagator
	Generator   *keygen.Generator
	PublicHost  string
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
