package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"proctor-backend/internal/repository"
)

type AssessmentHandler struct {
	assessments *repository.AssessmentRepo
}

func NewAssessmentHandler(assessments *repository.AssessmentRepo) *AssessmentHandler {
	return &AssessmentHandler{assessments: assessments}
}

func (h *AssessmentHandler) List(w http.ResponseWriter, r *http.Request) {
	assessments, err := h.assessments.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "Failed to list assessments", r))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"assessments": assessments})
}

func (h *AssessmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.assessments.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Assessment not found", r))
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}
