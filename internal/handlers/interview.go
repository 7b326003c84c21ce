package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proctor-backend/internal/middleware"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/services"
	"proctor-backend/internal/state"
)

type InterviewHandler struct {
	interviewer *services.InterviewerService
	sessions    *repository.SessionRepo
	state       *state.Store
}

func NewInterviewHandler(interviewer *services.InterviewerService, sessions *repository.SessionRepo, stateStore *state.Store) *InterviewHandler {
	return &InterviewHandler{interviewer: interviewer, sessions: sessions, state: stateStore}
}

func (h *InterviewHandler) Question(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	result, err := h.interviewer.NextQuestion(r.Context(), sessionID)
	if err != nil {
		h.writeInterviewError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *InterviewHandler) Answer(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.authorizedSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Transcript string `json:"transcript"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Transcript) == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "transcript is required", r))
		return
	}

	result, err := h.interviewer.SubmitAnswer(r.Context(), sessionID, req.Transcript)
	if err != nil {
		h.writeInterviewError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *InterviewHandler) writeInterviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, services.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
	case errors.Is(err, services.ErrNotInterviewPhase):
		writeJSON(w, http.StatusConflict, errorResp("WRONG_PHASE", "Session is not in an interview phase", r))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Interview step failed", r))
	}
}

func (h *InterviewHandler) authorizedSession(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return uuid.Nil, false
	}

	userID := middleware.GetUserID(r.Context())
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
