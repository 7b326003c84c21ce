package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"proctor-backend/internal/models"
)

func TestErrorRespCarriesRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x/status", nil)
	req.Header.Set("X-Request-ID", "req-123")

	resp := errorResp("NOT_FOUND", "Session not found", req)

	if resp.Error.Code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %s", resp.Error.Code)
	}
	if resp.Error.RequestID != "req-123" {
		t.Errorf("expected request ID propagated, got %q", resp.Error.RequestID)
	}
}

func TestWriteJSONSetsContentType(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSON(rr, http.StatusCreated, map[string]string{"status": "queued"})

	if rr.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %q", ct)
	}
}

func TestValidVerdicts(t *testing.T) {
	for _, v := range []string{
		models.VerdictStrongHire,
		models.VerdictHire,
		models.VerdictNeutral,
		models.VerdictReject,
		models.VerdictStrongReject,
	} {
		if !validVerdicts[v] {
			t.Errorf("expected %s to be a valid verdict", v)
		}
	}
	if validVerdicts["maybe"] {
		t.Error("expected unknown verdict to be rejected")
	}
}
