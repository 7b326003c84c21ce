package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"proctor-backend/internal/middleware"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/state"
)

type GradeHandler struct {
	grades   *repository.GradeRepo
	sessions *repository.SessionRepo
	state    *state.Store
}

func NewGradeHandler(grades *repository.GradeRepo, sessions *repository.SessionRepo, stateStore *state.Store) *GradeHandler {
	return &GradeHandler{grades: grades, sessions: sessions, state: stateStore}
}

// Report returns the grading report once the grader has finished. While
// grading is still in flight the client gets 404 and keeps polling.
func (h *GradeHandler) Report(w http.ResponseWriter, r *http.Request) {
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

	userID := middleware.GetUserID(r.Context())
	if session.UserID != userID && middleware.GetRole(r.Context()) != "admin" {
		writeJSON(w, http.StatusForbidden, errorResp("FORBIDDEN", "Not your session", r))
		return
	}

	grade, err := h.grades.GetBySession(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to load grade", r))
		return
	}
	if grade == nil {
		writeJSON(w, http.StatusNotFound, errorResp("GRADING_IN_PROGRESS", "Report is not ready yet", r))
		return
	}

	// A manual override replaces the model's verdict but keeps its analysis.
	verdict := grade.Verdict
	if session.OverrideVerdict != nil && *session.OverrideVerdict != "" {
		verdict = *session.OverrideVerdict
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id":        sessionID,
		"verdict":           verdict,
		"model_verdict":     grade.Verdict,
		"checkpoint_scores": grade.CheckpointScores,
		"timeline_analysis": grade.TimelineAnalysis,
		"qa_analysis":       grade.QAAnalysis,
		"overall_report":    grade.OverallReport,
		"fallback":          grade.Fallback,
		"graded_at":         grade.UpdatedAt,
	})
}
