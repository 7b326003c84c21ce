package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/state"
)

var validVerdicts = map[string]bool{
	models.VerdictStrongHire:   true,
	models.VerdictHire:         true,
	models.VerdictNeutral:      true,
	models.VerdictReject:       true,
	models.VerdictStrongReject: true,
}

type AdminHandler struct {
	sessions    *repository.SessionRepo
	assessments *repository.AssessmentRepo
	state       *state.Store
}

func NewAdminHandler(sessions *repository.SessionRepo, assessments *repository.AssessmentRepo, stateStore *state.Store) *AdminHandler {
	return &AdminHandler{sessions: sessions, assessments: assessments, state: stateStore}
}

func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	sessions, err := h.sessions.ListRecent(r.Context(), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list sessions", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// Regrade re-runs the grader for a session, for example after a fallback
// grade was written while the model was unavailable.
func (h *AdminHandler) Regrade(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Session not found", r))
		return
	}
	if session.Status != models.StatusCompleted && session.Status != models.StatusAbandoned {
		writeJSON(w, http.StatusConflict, errorResp("SESSION_ACTIVE", "Session has not finished yet", r))
		return
	}

	if err := h.state.DispatchTask(r.Context(), state.QueueGrading, sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to queue regrade", r))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "regrade_queued"})
}

// Override records a human verdict that supersedes the model's.
func (h *AdminHandler) Override(w http.ResponseWriter, r *http.Request) {
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid session ID", r))
		return
	}

	var req struct {
		Verdict string `json:"verdict"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || !validVerdicts[req.Verdict] {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "A valid verdict is required", r))
		return
	}

	if err := h.sessions.SetOverrideVerdict(r.Context(), sessionID, req.Verdict); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to record override", r))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"verdict": req.Verdict})
}

// UpsertAssessment creates or replaces an assessment definition. Configs
// are validated before anything is written.
func (h *AdminHandler) UpsertAssessment(w http.ResponseWriter, r *http.Request) {
	var assessment models.Assessment
	if err := json.NewDecoder(r.Body).Decode(&assessment); err != nil || assessment.ID == "" {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", "Invalid assessment body", r))
		return
	}

	if err := h.assessments.Upsert(r.Context(), &assessment); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp("VALIDATION_ERROR", err.Error(), r))
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}
