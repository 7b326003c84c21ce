package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/state"
)

const gradingSystemPrompt = `You are an expert engineering evaluator. You assess candidates taking a practical engineering-tool exam.

You will receive:
1. A chronological sequence of board state snapshots showing how the candidate built their design
2. The assessment rubric with checkpoints and weights
3. Q&A pairs from the candidate's intro and domain interview phases

Evaluate the candidate's PROCESS, not just the final result:
- Did they follow a logical build order?
- Did they demonstrate understanding in their Q&A answers?

Return a JSON object with:
- verdict: one of "strong_hire", "hire", "neutral", "reject", "strong_reject"
- checkpoint_scores: object mapping checkpoint names to scores (0-10)
- timeline_analysis: detailed analysis of the candidate's build process over time
- qa_analysis: evaluation of the candidate's Q&A responses
- overall_report: comprehensive evaluation summary`

type gradeResult struct {
	Verdict          string         `json:"verdict"`
	CheckpointScores map[string]int `json:"checkpoint_scores"`
	TimelineAnalysis string         `json:"timeline_analysis"`
	QAAnalysis       string         `json:"qa_analysis"`
	OverallReport    string         `json:"overall_report"`
}

type GraderService struct {
	ai          aiClient
	sessions    *repository.SessionRepo
	assessments *repository.AssessmentRepo
	snapshots   *repository.SnapshotRepo
	qaPairs     *repository.QARepo
	grades      *repository.GradeRepo
	users       *repository.UserRepo
	state       *state.Store
	email       *EmailService
}

func NewGraderService(
	ai aiClient,
	sessions *repository.SessionRepo,
	assessments *repository.AssessmentRepo,
	snapshots *repository.SnapshotRepo,
	qaPairs *repository.QARepo,
	grades *repository.GradeRepo,
	users *repository.UserRepo,
	stateStore *state.Store,
	email *EmailService,
) *GraderService {
	return &GraderService{
		ai:          ai,
		sessions:    sessions,
		assessments: assessments,
		snapshots:   snapshots,
		qaPairs:     qaPairs,
		grades:      grades,
		users:       users,
		state:       stateStore,
		email:       email,
	}
}

// FinalizeSession grades a session and persists the result. Every call
// leaves the session in phase graded: a grading failure writes a fallback
// grade instead of leaving the session stuck. Re-invoking for an already
// graded session overwrites the prior grade (admin regrade).
func (s *GraderService) FinalizeSession(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("grader: failed to load session: %w", err)
	}

	assessment, err := s.assessments.GetByID(ctx, session.AssessmentID)
	if err != nil {
		return fmt.Errorf("grader: failed to load assessment: %w", err)
	}

	labConfig, err := models.ParseLabConfig(assessment.LabConfig)
	if err != nil {
		return fmt.Errorf("grader: %w", err)
	}

	snapshots, err := s.snapshots.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("grader: failed to load snapshots: %w", err)
	}

	qaPairs, err := s.qaPairs.ListBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("grader: failed to load Q&A pairs: %w", err)
	}

	result, gradeErr := s.grade(ctx, snapshots, qaPairs, labConfig.Rubric)
	if gradeErr != nil {
		log.Printf("grader: automated grading failed for session %s: %v", sessionID, gradeErr)
		result = fallbackResult(labConfig.Rubric)
	}

	grade := &models.Grade{
		SessionID:        sessionID,
		Verdict:          result.Verdict,
		CheckpointScores: result.CheckpointScores,
		TimelineAnalysis: result.TimelineAnalysis,
		QAAnalysis:       result.QAAnalysis,
		OverallReport:    result.OverallReport,
		Fallback:         gradeErr != nil,
	}
	if err := s.grades.Upsert(ctx, grade); err != nil {
		return fmt.Errorf("grader: failed to persist grade: %w", err)
	}

	// The session reaches a terminal graded phase even when the grading
	// service failed.
	if err := s.sessions.UpdatePhase(ctx, sessionID, models.PhaseGraded); err != nil {
		log.Printf("grader: failed to update durable phase for %s: %v", sessionID, err)
	}
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{"phase": models.PhaseGraded}); err != nil {
		log.Printf("grader: failed to update session state for %s: %v", sessionID, err)
	}

	s.notify(ctx, session, assessment, grade)

	if gradeErr != nil {
		return fmt.Errorf("grader: graded with fallback: %w", gradeErr)
	}
	return nil
}

func (s *GraderService) grade(ctx context.Context, snapshots []models.Snapshot, qaPairs []models.QAPair, rubric models.Rubric) (*gradeResult, error) {
	userPrompt := buildGradingPrompt(snapshots, qaPairs, rubric)

	var result gradeResult
	if err := s.ai.CompleteJSON(ctx, gradingSystemPrompt, userPrompt, &result); err != nil {
		return nil, err
	}
	if result.Verdict == "" {
		return nil, fmt.Errorf("grading result missing verdict")
	}
	if result.CheckpointScores == nil {
		result.CheckpointScores = map[string]int{}
	}
	return &result, nil
}

// fallbackResult is written when the grading call throws or times out:
// neutral verdict, zeroed checkpoints, and an analysis that says so. The
// session stays inspectable and manually regradable.
func fallbackResult(rubric models.Rubric) *gradeResult {
	scores := make(map[string]int, len(rubric.Checkpoints))
	for _, cp := range rubric.Checkpoints {
		scores[cp.Name] = 0
	}
	const note = "Automated grading failed for this session. All checkpoint scores are zeroed pending manual review; an administrator can trigger a regrade."
	return &gradeResult{
		Verdict:          models.VerdictNeutral,
		CheckpointScores: scores,
		TimelineAnalysis: note,
		QAAnalysis:       note,
		OverallReport:    note,
	}
}

func buildGradingPrompt(snapshots []models.Snapshot, qaPairs []models.QAPair, rubric models.Rubric) string {
	rubricJSON, _ := json.MarshalIndent(rubric, "", "  ")

	var timeline []string
	var base float64
	if len(snapshots) > 0 {
		base = snapshots[0].Timestamp
	}
	for _, snap := range snapshots {
		elapsed := int(snap.Timestamp - base)
		var counts struct {
			Footprints []json.RawMessage `json:"footprints"`
			Tracks     []json.RawMessage `json:"tracks"`
			Zones      []json.RawMessage `json:"zones"`
		}
		json.Unmarshal(snap.Data, &counts)
		timeline = append(timeline, fmt.Sprintf("T=%d:%02d -> %d footprints, %d tracks, %d zones",
			elapsed/60, elapsed%60, len(counts.Footprints), len(counts.Tracks), len(counts.Zones)))
	}

	var qaLines []string
	for _, qa := range qaPairs {
		qaLines = append(qaLines, fmt.Sprintf("[%s] Q: %s\nA: %s", qa.Phase, qa.Question, qa.Answer))
	}

	prompt := fmt.Sprintf(`## Assessment Rubric
%s

## Board State Timeline (%d snapshots)
%s

## Q&A Pairs
%s`, rubricJSON, len(snapshots), strings.Join(timeline, "\n"), strings.Join(qaLines, "\n\n"))

	// Include first, middle and last full snapshots for detail.
	if len(snapshots) > 0 {
		first := snapshots[0].Data
		middle := snapshots[len(snapshots)/2].Data
		last := snapshots[len(snapshots)-1].Data
		prompt += fmt.Sprintf("\n\n## Full Snapshots (first, middle, last)\nFirst: %s\nMiddle: %s\nLast: %s",
			first, middle, last)
	}

	return prompt
}

// notify sends the completion email and a grade-ready event. Both are
// best-effort; notification failure never fails the finalize call.
func (s *GraderService) notify(ctx context.Context, session *models.Session, assessment *models.Assessment, grade *models.Grade) {
	s.state.PublishUserEvent(ctx, session.UserID, models.WSMessage{
		Type:    "grade_ready",
		Payload: models.GradeReadyEvent{SessionID: session.ID, Verdict: grade.Verdict},
	})

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		log.Printf("grader: failed to load user for completion email: %v", err)
		return
	}
	if err := s.email.SendCompletionEmail(user.Email, user.FullName, assessment.Title, session.ID.String(), grade.Verdict); err != nil {
		log.Printf("grader: failed to send completion email to %s: %v", user.Email, err)
	}
}
