package models

import (
	"time"

	"github.com/google/uuid"
)

// Durable session statuses. Terminal states are immutable except for
// post-hoc grade and override attachment.
const (
	StatusQueued       = "queued"
	StatusProvisioning = "provisioning"
	StatusReady        = "ready"
	StatusActive       = "active"
	StatusCompleted    = "completed"
	StatusAbandoned    = "abandoned"
)

// Candidate-facing phases. Transitions are strictly monotonic.
const (
	PhaseQueued  = "queued"
	PhaseIntro   = "intro"
	PhaseDomain  = "domain"
	PhaseLab     = "lab"
	PhaseGrading = "grading"
	PhaseGraded  = "graded"
)

type Session struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	AssessmentID    string     `json:"assessment_id"`
	Status          string     `json:"status"`
	Phase           string     `json:"phase"`
	SandboxID       *string    `json:"sandbox_id,omitempty"`
	FinalArtifact   []byte     `json:"-"`
	OverrideVerdict *string    `json:"override_verdict,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// ActiveSession is the reaper's view of a live session: the session row
// joined with its assessment's time limit.
type ActiveSession struct {
	ID        uuid.UUID
	StartedAt *time.Time
	TimeLimit int // seconds
}
