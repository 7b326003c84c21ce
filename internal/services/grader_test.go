package services

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"proctor-backend/internal/models"
)

func testRubric() models.Rubric {
	return models.Rubric{Checkpoints: []models.RubricCheckpoint{
		{Name: "components_placed", Description: "Parts on board", Weight: 2, ExpectedOrder: 1},
		{Name: "nets_routed", Description: "All nets routed", Weight: 3, ExpectedOrder: 2},
	}}
}

func TestFallbackResult(t *testing.T) {
	result := fallbackResult(testRubric())

	if result.Verdict != models.VerdictNeutral {
		t.Errorf("expected neutral fallback verdict, got %s", result.Verdict)
	}
	if len(result.CheckpointScores) != 2 {
		t.Fatalf("expected a score entry per checkpoint, got %d", len(result.CheckpointScores))
	}
	for name, score := range result.CheckpointScores {
		if score != 0 {
			t.Errorf("expected checkpoint %s zeroed, got %d", name, score)
		}
	}
	if result.OverallReport == "" || !strings.Contains(result.OverallReport, "regrade") {
		t.Errorf("expected fallback report to mention regrade, got %q", result.OverallReport)
	}
}

func TestBuildGradingPromptTimeline(t *testing.T) {
	sessionID := uuid.New()
	snapshots := []models.Snapshot{
		{SessionID: sessionID, Timestamp: 1000, Data: json.RawMessage(`{"footprints": [{}, {}], "tracks": [], "zones": []}`)},
		{SessionID: sessionID, Timestamp: 1065, Data: json.RawMessage(`{"footprints": [{}, {}], "tracks": [{}], "zones": []}`)},
		{SessionID: sessionID, Timestamp: 1190, Data: json.RawMessage(`{"footprints": [{}, {}], "tracks": [{}, {}, {}], "zones": [{}]}`)},
	}
	qaPairs := []models.QAPair{
		{Phase: models.PhaseDomain, Question: "Why a divider?", Answer: "To scale the voltage down."},
	}

	prompt := buildGradingPrompt(snapshots, qaPairs, testRubric())

	if !strings.Contains(prompt, "T=0:00 -> 2 footprints, 0 tracks, 0 zones") {
		t.Errorf("expected first timeline entry at T=0:00, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "T=1:05 -> 2 footprints, 1 tracks, 0 zones") {
		t.Errorf("expected relative timestamp T=1:05 in timeline, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "T=3:10 -> 2 footprints, 3 tracks, 1 zones") {
		t.Errorf("expected final timeline entry at T=3:10, got:\n%s", prompt)
	}
	if !strings.Contains(prompt, "nets_routed") {
		t.Error("expected rubric checkpoints in prompt")
	}
	if !strings.Contains(prompt, "Why a divider?") {
		t.Error("expected Q&A pairs in prompt")
	}
	if !strings.Contains(prompt, "Full Snapshots (first, middle, last)") {
		t.Error("expected full snapshot section in prompt")
	}
}

func TestBuildGradingPromptNoSnapshots(t *testing.T) {
	prompt := buildGradingPrompt(nil, nil, testRubric())

	if strings.Contains(prompt, "Full Snapshots") {
		t.Error("expected no full snapshot section without snapshots")
	}
	if !strings.Contains(prompt, "0 snapshots") {
		t.Error("expected snapshot count of 0 in prompt")
	}
}
