package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/state"
)

const (
	// No board changes for this long counts as stagnation.
	stagnationThreshold = 5 * time.Minute
)

type NudgeResult struct {
	ShouldNudge bool   `json:"should_nudge"`
	Message     string `json:"message,omitempty"`
}

// NudgeService generates gentle proctor messages when a candidate stalls
// during the lab phase. Cooldown lives in the coordination store.
type NudgeService struct {
	ai          aiClient
	sessions    *repository.SessionRepo
	assessments *repository.AssessmentRepo
	snapshots   *repository.SnapshotRepo
	state       *state.Store
}

func NewNudgeService(
	ai aiClient,
	sessions *repository.SessionRepo,
	assessments *repository.AssessmentRepo,
	snapshots *repository.SnapshotRepo,
	stateStore *state.Store,
) *NudgeService {
	return &NudgeService{
		ai:          ai,
		sessions:    sessions,
		assessments: assessments,
		snapshots:   snapshots,
		state:       stateStore,
	}
}

func (s *NudgeService) CheckForNudge(ctx context.Context, sessionID uuid.UUID) (*NudgeResult, error) {
	onCooldown, err := s.state.NudgeOnCooldown(ctx, sessionID)
	if err != nil || onCooldown {
		return &NudgeResult{ShouldNudge: false}, err
	}

	now := time.Now()

	latest, err := s.snapshots.Latest(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("nudge: failed to load latest snapshot: %w", err)
	}

	if latest == nil {
		session, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("nudge: failed to load session: %w", err)
		}
		if session.StartedAt == nil {
			return &NudgeResult{ShouldNudge: false}, nil
		}
		if now.Sub(*session.StartedAt) > stagnationThreshold {
			return s.generateNudge(ctx, sessionID, "no_activity")
		}
		return &NudgeResult{ShouldNudge: false}, nil
	}

	sinceLastChange := now.Sub(time.Unix(int64(latest.Timestamp), 0))
	if sinceLastChange < stagnationThreshold {
		return &NudgeResult{ShouldNudge: false}, nil
	}

	return s.generateNudge(ctx, sessionID, "stagnation")
}

func (s *NudgeService) generateNudge(ctx context.Context, sessionID uuid.UUID, reason string) (*NudgeResult, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return &NudgeResult{ShouldNudge: false}, nil
	}
	assessment, err := s.assessments.GetByID(ctx, session.AssessmentID)
	if err != nil {
		return &NudgeResult{ShouldNudge: false}, nil
	}

	prompts := map[string]string{
		"no_activity": "The candidate hasn't made any changes in the lab environment yet. They may be reading the task or feeling overwhelmed. Generate a gentle, encouraging nudge that reminds them of the task without giving hints.",
		"stagnation":  "The candidate hasn't made changes for over 5 minutes. They may be stuck. Generate a gentle nudge that encourages them to continue working without revealing the solution.",
	}

	message, err := s.ai.Complete(ctx,
		"You are an AI exam proctor. Generate a brief, encouraging nudge (1-2 sentences) for a candidate taking a practical engineering assessment. Do NOT give hints, solutions, or specific guidance about the task. Be conversational and supportive.",
		fmt.Sprintf("Assessment: %s — %s\n\n%s", assessment.Title, assessment.Description, prompts[reason]))
	if err != nil {
		log.Printf("nudge: generation failed for %s: %v", sessionID, err)
		return &NudgeResult{ShouldNudge: false}, nil
	}

	if err := s.state.SetNudgeCooldown(ctx, sessionID); err != nil {
		log.Printf("nudge: failed to set cooldown for %s: %v", sessionID, err)
	}

	s.state.PublishUserEvent(ctx, session.UserID, models.WSMessage{
		Type:    "nudge",
		Payload: models.NudgeEvent{SessionID: sessionID, Message: message},
	})

	return &NudgeResult{ShouldNudge: true, Message: message}, nil
}
