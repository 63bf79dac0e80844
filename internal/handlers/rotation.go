package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/veilnet/realityd/internal/database"
	"github.com/veilnet/realityd/internal/rotation"
)

// RotateCredentials handles POST /api/v1/rotation. It replaces the active
// credential set and propagates it to every subscriber.
func RotateCredentials(w http.ResponseWriter, r *http.Request) {
	if Coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "rotation coordinator not initialized")
		return
	}

	trigger := rotation.TriggerManual
	var body struct {
		Trigger string `json:"trigger"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	switch body.Trigger {
	case "", "manual":
	case "repair":
		trigger = rotation.TriggerRepair
	case "scheduled":
		trigger = rotation.TriggerScheduled
	default:
		writeError(w, http.StatusBadRequest, "unknown trigger "+strconv.Quote(body.Trigger))
		return
	}

	result, err := Coordinator.Rotate(r.Context(), trigger)
	if err != nil {
		if errors.Is(err, rotation.ErrRotationInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "rotation failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rotationResponse(result))
}

// ReconcileCredentials handles POST /api/v1/reconcile: re-propagate the
// current on-disk state, restart the engine, verify. Safe to repeat.
func ReconcileCredentials(w http.ResponseWriter, r *http.Request) {
	if Coordinator == nil {
		writeError(w, http.StatusServiceUnavailable, "rotation coordinator not initialized")
		return
	}

	result, err := Coordinator.Reconcile(r.Context())
	if err != nil {
		if errors.Is(err, rotation.ErrRotationInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "reconcile failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, rotationResponse(result))
}

// ListRotations handles GET /api/v1/rotations.
func ListRotations(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := database.ListRotations(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query rotation history")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// rotationResponse makes the apply outcome the headline of the payload.
func rotationResponse(result *rotation.Result) map[string]interface{} {
	resp := map[string]interface{}{
		"result": result,
	}
	if result.ApplyFailed {
		resp["message"] = rotation.ApplyFailedMessage
	}
	return resp
}
