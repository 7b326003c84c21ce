package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/services"
	"proctor-backend/internal/state"
)

// SnapshotHandler ingests design-state snapshots posted by the poller that
// runs inside each sandbox. The route is not behind JWT auth: the sandbox
// only knows its own session ID, and posts are accepted only while the
// session is live.
type SnapshotHandler struct {
	snapshots *repository.SnapshotRepo
	state     *state.Store
	nudge     *services.NudgeService
}

func NewSnapshotHandler(snapshots *repository.SnapshotRepo, stateStore *state.Store, nudge *services.NudgeService) *SnapshotHandler {
	return &SnapshotHandler{snapshots: snapshots, state: stateStore, nudge: nudge}
}

func (h *SnapshotHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	st, err := h.state.GetSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read session state", r))
		return
	}
	if st == nil || st.Status == models.StatusCompleted {
		writeJSON(w, http.StatusGone, errorResp("SESSION_ENDED", "Session is no longer accepting snapshots", r))
		return
	}

	var req struct {
		Timestamp float64         `json:"timestamp"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Data) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "timestamp and data are required", r))
		return
	}

	snapshot := &models.Snapshot{
		SessionID: sessionID,
		Timestamp: req.Timestamp,
		Data:      req.Data,
	}
	if err := h.snapshots.Create(r.Context(), snapshot); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to store snapshot", r))
		return
	}

	// Each lab snapshot doubles as a stagnation check. Runs off the request
	// path; the cooldown in the coordination store keeps it cheap.
	if st.Phase == models.PhaseLab {
		go func() {
			if _, err := h.nudge.CheckForNudge(context.Background(), sessionID); err != nil {
				log.Printf("snapshot: nudge check failed for %s: %v", sessionID, err)
			}
		}()
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
}
