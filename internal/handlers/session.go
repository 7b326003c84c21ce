package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proctor-backend/internal/middleware"
	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/scheduler"
	"proctor-backend/internal/state"
)

type SessionHandler struct {
	sched    *scheduler.Scheduler
	sessions *repository.SessionRepo
	state    *state.Store
}

func NewSessionHandler(sched *scheduler.Scheduler, sessions *repository.SessionRepo, stateStore *state.Store) *SessionHandler {
	return &SessionHandler{sched: sched, sessions: sessions, state: stateStore}
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssessmentID string `json:"assessment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AssessmentID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "assessment_id is required", r))
		return
	}

	userID := middleware.GetUserID(r.Context())
	result, err := h.sched.StartSession(r.Context(), userID, req.AssessmentID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// Status is the client's polling endpoint while waiting in the queue and
// during provisioning.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	st, err := h.state.GetSession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to read session state", r))
		return
	}

	if st == nil {
		// Mirror gone; report the durable record.
		session, err := h.sessions.GetByID(r.Context(), sessionID)
		if err != nil {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"session_id": sessionID,
			"status":     session.Status,
			"phase":      session.Phase,
		})
		return
	}

	resp := map[string]interface{}{
		"session_id": sessionID,
		"status":     st.Status,
		"phase":      st.Phase,
	}
	if st.Status == models.StatusQueued {
		if pos, err := h.state.QueuePosition(r.Context(), sessionID); err == nil && pos >= 0 {
			resp["queue_position"] = pos + 1
		}
	}
	if st.Endpoint != "" {
		resp["endpoint"] = st.Endpoint
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *SessionHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	if err := h.sched.Heartbeat(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record heartbeat", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	if err := h.sched.EndSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, scheduler.ErrSessionNotFound) {
			writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to end session", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": models.StatusCompleted,
		"phase":  models.PhaseGrading,
	})
}

// authorizedSession parses the session ID from the URL and verifies the
// caller owns it. Admins may act on any session.
func (h *SessionHandler) authorizedSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return uuid.Nil, false
	}

	userID := middleware.GetUserID(r.Context())
	if middleware.GetRole(r.Context()) == "admin" {
		return sessionID, true
	}

	owner, err := sessionOwner(r, h.state, h.sessions, sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return uuid.Nil, false
	}
	if owner != userID {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Not your session", r))
		return uuid.Nil, false
	}

	return sessionID, true
}

// sessionOwner resolves ownership from the coordination store first and the
// durable store second, so expired mirrors don't lock a user out of their
// own results.
func sessionOwner(r *http.Request, st *state.Store, sessions *repository.SessionRepo, sessionID uuid.UUID) (uuid.UUID, error) {
	if s, err := st.GetSession(r.Context(), sessionID); err == nil && s != nil {
		if ownerID, err := uuid.Parse(s.UserID); err == nil {
			return ownerID, nil
		}
	}

	session, err := sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		return uuid.Nil, err
	}
	return session.UserID, nil
}
