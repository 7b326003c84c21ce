package services

import (
	"testing"

	"proctor-backend/internal/models"
)

func TestNextPhase(t *testing.T) {
	if got := nextPhase(models.PhaseIntro); got != models.PhaseDomain {
		t.Errorf("expected intro to advance to domain, got %s", got)
	}
	if got := nextPhase(models.PhaseDomain); got != models.PhaseLab {
		t.Errorf("expected domain to advance to lab, got %s", got)
	}
}

func TestEnvLabels(t *testing.T) {
	if envLabels["kicad"] == "" {
		t.Error("expected a display label for the kicad environment")
	}
}
