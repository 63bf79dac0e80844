package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/veilnet/realityd/internal/artifacts"
	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/keygen"
	"github.com/veilnet/realityd/internal/rotation"
	"gorm.io/gorm"
)

// ListSubscribers handles GET /api/v1/subscribers.
func ListSubscribers(w http.ResponseWriter, r *http.Request) {
	subs, err := database.ListSubscribers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query subscribers")
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// GetSubscriber handles GET /api/v1/subscribers/{id}.
func GetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := subscriberFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// GetSubscriberArtifact handles GET /api/v1/subscribers/{id}/artifact and
// returns the current connection URI without touching disk state.
func GetSubscriberArtifact(w http.ResponseWriter, r *http.Request) {
	sub, ok := subscriberFromPath(w, r)
	if !ok {
		return
	}

	cfg, err := Store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cannot load engine config: "+err.Error())
		return
	}
	// Prefer the recorded public key; before the first rotation derive it
	// from the on-disk private key.
	publicKey, _ := database.GetSetting("active_public_key")
	if publicKey == "" {
		pub, err := keygen.PublicFromPrivate(cfg.PrivateKey())
		if err != nil {
			writeError(w, http.StatusConflict, "no active public key recorded; rotate first")
			return
		}
		publicKey = pub
	}

	uri := artifacts.BuildURI(sub, artifacts.Credentials{PublicKey: publicKey, ShortID: cfg.ShortIDs()[0]}, artifacts.NetworkParams{
		Host:       PublicHost,
		Port:       cfg.ListenPort(),
		ServerName: cfg.ServerNames()[0],
	})
	writeJSON(w, http.StatusOK, map[string]string{"label": sub.Label, "uri": uri})
}

// CreateSubscriber handles POST /api/v1/subscribers. The new subscriber is
// folded into the engine config via a reconcile run, which also produces
// its connection artifacts.
func CreateSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label       string `json:"label"`
		Flow        string `json:"flow"`
		Fingerprint string `json:"fingerprint"`
		Network     string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}

	sub := &database.Subscriber{
		Label:       req.Label,
		Flow:        req.Flow,
		Fingerprint: req.Fingerprint,
		Network:     req.Network,
	}
	if err := database.CreateSubscriber(sub); err != nil {
		writeError(w, http.StatusConflict, "create subscriber: "+err.Error())
		return
	}

	resp := map[string]interface{}{"subscriber": sub}
	if result, err := Coordinator.Reconcile(r.Context()); err != nil {
		log.Printf("handlers: reconcile after subscriber create failed: %v", err)
		resp["warning"] = "subscriber stored but not yet propagated: " + err.Error()
	} else if result.ApplyFailed {
		resp["warning"] = rotation.ApplyFailedMessage
	}
	writeJSON(w, http.StatusCreated, resp)
}

// UpdateSubscriber handles PUT /api/v1/subscribers/{id} for the mutable
// transport parameters. Credential columns are owned by rotation.
func UpdateSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := subscriberFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Label       *string `json:"label"`
		Flow        *string `json:"flow"`
		Fingerprint *string `json:"fingerprint"`
		Network     *string `json:"network"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	oldLabel := sub.Label
	if req.Label != nil && *req.Label != "" {
		sub.Label = *req.Label
	}
	if req.Flow != nil {
		sub.Flow = *req.Flow
	}
	if req.Fingerprint != nil && *req.Fingerprint != "" {
		sub.Fingerprint = *req.Fingerprint
	}
	if req.Network != nil && *req.Network != "" {
		sub.Network = *req.Network
	}

	if err := database.UpdateSubscriber(sub); err != nil {
		writeError(w, http.StatusConflict, "update subscriber: "+err.Error())
		return
	}
	if oldLabel != sub.Label && Propagator != nil {
		if err := Propagator.Remove(oldLabel); err != nil {
			log.Printf("handlers: remove artifacts for old label %q: %v", oldLabel, err)
		}
	}

	resp := map[string]interface{}{"subscriber": sub}
	if result, err := Coordinator.Reconcile(r.Context()); err != nil {
		log.Printf("handlers: reconcile after subscriber update failed: %v", err)
		resp["warning"] = "subscriber updated but not yet propagated: " + err.Error()
	} else if result.ApplyFailed {
		resp["warning"] = rotation.ApplyFailedMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteSubscriber handles DELETE /api/v1/subscribers/{id}.
func DeleteSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := subscriberFromPath(w, r)
	if !ok {
		return
	}

	if err := database.DeleteSubscriber(sub.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "delete subscriber: "+err.Error())
		return
	}
	if Propagator != nil {
		if err := Propagator.Remove(sub.Label); err != nil {
			log.Printf("handlers: remove artifacts for %q: %v", sub.Label, err)
		}
	}

	resp := map[string]interface{}{"deleted": sub.ID}
	if result, err := Coordinator.Reconcile(r.Context()); err != nil {
		log.Printf("handlers: reconcile after subscriber delete failed: %v", err)
		resp["warning"] = "subscriber removed but engine config not yet updated: " + err.Error()
	} else if result.ApplyFailed {
		resp["warning"] = rotation.ApplyFailedMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

func subscriberFromPath(w http.ResponseWriter, r *http.Request) (*database.Subscriber, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscriber id")
		return nil, false
	}
	sub, err := database.GetSubscriber(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			writeError(w, http.StatusNotFound, "subscriber not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to query subscriber")
		}
		return nil, false
	}
	return sub, true
}
