package models

import (
	"time"

	"github.com/google/uuid"
)

// Verdict categories, strongest to weakest.
const (
	VerdictStrongHire   = "strong_hire"
	VerdictHire         = "hire"
	VerdictNeutral      = "neutral"
	VerdictReject       = "reject"
	VerdictStrongReject = "strong_reject"
)

type Grade struct {
	SessionID        uuid.UUID      `json:"session_id"`
	Verdict          string         `json:"verdict"`
	CheckpointScores map[string]int `json:"checkpoint_scores"`
	TimelineAnalysis string         `json:"timeline_analysis"`
	QAAnalysis       string         `json:"qa_analysis"`
	OverallReport    string         `json:"overall_report"`
	Fallback         bool           `json:"fallback"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
