package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/repository"
	"proctor-backend/internal/state"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotInterviewPhase = errors.New("session is not in an interview phase")
)

var envLabels = map[string]string{
	"kicad":   "PCB design (KiCad)",
	"freecad": "CAD modeling (FreeCAD)",
	"blender": "3D modeling (Blender)",
}

type QuestionResult struct {
	Question  string `json:"question,omitempty"`
	Phase     string `json:"phase"`
	Done      bool   `json:"done,omitempty"`
	NextPhase string `json:"next_phase,omitempty"`
}

type AnswerResult struct {
	Eval      string `json:"eval"` // "next" | "probe" | "done"
	NextPhase string `json:"next_phase,omitempty"`
	FollowUp  string `json:"follow_up,omitempty"`
}

type probeEval struct {
	ShouldProbe bool   `json:"should_probe"`
	FollowUp    string `json:"follow_up"`
	Score       int    `json:"score"`
}

// InterviewerService drives the intro and domain interview phases. Phase
// transitions are monotonic (intro -> domain -> lab) and mirrored to the
// durable store so a restart resumes where the candidate left off.
type InterviewerService struct {
	ai          aiClient
	sessions    *repository.SessionRepo
	assessments *repository.AssessmentRepo
	qaPairs     *repository.QARepo
	state       *state.Store
}

func NewInterviewerService(
	ai aiClient,
	sessions *repository.SessionRepo,
	assessments *repository.AssessmentRepo,
	qaPairs *repository.QARepo,
	stateStore *state.Store,
) *InterviewerService {
	return &InterviewerService{
		ai:          ai,
		sessions:    sessions,
		assessments: assessments,
		qaPairs:     qaPairs,
		state:       stateStore,
	}
}

// NextQuestion returns the next question for the session's current phase,
// or Done when the phase quota is exhausted.
func (s *InterviewerService) NextQuestion(ctx context.Context, sessionID uuid.UUID) (*QuestionResult, error) {
	st, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSessionNotFound
	}
	if st.Phase != models.PhaseIntro && st.Phase != models.PhaseDomain {
		return nil, ErrNotInterviewPhase
	}

	assessment, err := s.assessments.GetByID(ctx, st.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}

	cfg, err := s.phaseConfig(assessment, st.Phase)
	if err != nil {
		return nil, err
	}

	asked, err := s.qaPairs.CountByPhase(ctx, sessionID, st.Phase)
	if err != nil {
		return nil, fmt.Errorf("failed to count questions: %w", err)
	}

	if asked >= cfg.MaxQuestions {
		return &QuestionResult{Phase: st.Phase, Done: true, NextPhase: nextPhase(st.Phase)}, nil
	}

	var question string
	if asked < len(cfg.Questions) {
		question = cfg.Questions[asked]
	} else if cfg.Adaptive {
		question, err = s.generateQuestion(ctx, sessionID, assessment, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		// Static list shorter than the quota: treat as exhausted.
		return &QuestionResult{Phase: st.Phase, Done: true, NextPhase: nextPhase(st.Phase)}, nil
	}

	if err := s.state.SetPendingQuestion(ctx, sessionID, question); err != nil {
		log.Printf("interviewer: failed to store pending question for %s: %v", sessionID, err)
	}

	return &QuestionResult{Question: question, Phase: st.Phase}, nil
}

// SubmitAnswer records an answer against the pending question and decides
// what happens next: another top-level question, an adaptive follow-up
// probe, or a phase transition.
func (s *InterviewerService) SubmitAnswer(ctx context.Context, sessionID uuid.UUID, transcript string) (*AnswerResult, error) {
	st, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, ErrSessionNotFound
	}
	if st.Phase != models.PhaseIntro && st.Phase != models.PhaseDomain {
		return nil, ErrNotInterviewPhase
	}

	pending, err := s.state.GetPendingQuestion(ctx, sessionID)
	if err != nil || pending == "" {
		pending = "unknown question"
	}

	qa := &models.QAPair{
		SessionID: sessionID,
		Phase:     st.Phase,
		Question:  pending,
		Answer:    transcript,
		Timestamp: float64(time.Now().Unix()),
	}
	if err := s.qaPairs.Create(ctx, qa); err != nil {
		return nil, fmt.Errorf("failed to save answer: %w", err)
	}

	assessment, err := s.assessments.GetByID(ctx, st.AssessmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment: %w", err)
	}
	cfg, err := s.phaseConfig(assessment, st.Phase)
	if err != nil {
		return nil, err
	}

	answered, err := s.qaPairs.CountByPhase(ctx, sessionID, st.Phase)
	if err != nil {
		return nil, fmt.Errorf("failed to count answers: %w", err)
	}

	if answered >= cfg.MaxQuestions {
		next := nextPhase(st.Phase)
		s.state.ClearProbeDepth(ctx, sessionID)
		if err := s.advancePhase(ctx, sessionID, next); err != nil {
			return nil, err
		}
		return &AnswerResult{Eval: "done", NextPhase: next}, nil
	}

	if !cfg.Adaptive {
		return &AnswerResult{Eval: "next"}, nil
	}

	return s.adaptiveProbe(ctx, sessionID, qa, assessment, cfg, transcript)
}

// adaptiveProbe spends the per-question probe budget on follow-ups when the
// model judges an answer worth digging into.
func (s *InterviewerService) adaptiveProbe(ctx context.Context, sessionID uuid.UUID, qa *models.QAPair, assessment *models.Assessment, cfg *models.PhaseConfig, transcript string) (*AnswerResult, error) {
	remaining, err := s.state.GetProbeDepth(ctx, sessionID)
	if err != nil {
		return &AnswerResult{Eval: "next"}, nil
	}
	if remaining == -1 {
		// First answer in a new question chain.
		remaining = cfg.MaxProbeDepth
	}

	if remaining <= 0 {
		s.state.ClearProbeDepth(ctx, sessionID)
		return &AnswerResult{Eval: "next"}, nil
	}

	envLabel := envLabels[assessment.Environment]
	if envLabel == "" {
		envLabel = assessment.Environment
	}

	systemPrompt := fmt.Sprintf(`You evaluate answers in a %s assessment. The assessment is: %q.
Return JSON with:
- should_probe (boolean): true ONLY if the answer is vague, incomplete, or reveals a misconception worth exploring. false if the answer is clear and sufficient.
- follow_up (string): if should_probe is true, a concise follow-up question that digs into the weak point.
- score (number 1-10): quality rating of the answer.`, envLabel, assessment.Title)
	if cfg.AdaptivePrompt != "" {
		systemPrompt += "\n\n" + cfg.AdaptivePrompt
	}

	var eval probeEval
	err = s.ai.CompleteJSON(ctx, systemPrompt,
		fmt.Sprintf("Assessment context: %s\n\nAnswer: %q\n\nShould this answer be cross-questioned?", assessment.Description, transcript),
		&eval)
	if err != nil {
		// Model failed: don't probe, move on.
		log.Printf("interviewer: probe evaluation failed for %s: %v", sessionID, err)
		s.state.ClearProbeDepth(ctx, sessionID)
		return &AnswerResult{Eval: "next"}, nil
	}

	if eval.Score > 0 {
		if err := s.qaPairs.SetEvalScore(ctx, qa.ID, eval.Score); err != nil {
			log.Printf("interviewer: failed to record eval score: %v", err)
		}
	}

	if !eval.ShouldProbe || strings.TrimSpace(eval.FollowUp) == "" {
		s.state.ClearProbeDepth(ctx, sessionID)
		return &AnswerResult{Eval: "next"}, nil
	}

	if err := s.state.SetProbeDepth(ctx, sessionID, remaining-1); err != nil {
		log.Printf("interviewer: failed to update probe depth: %v", err)
	}
	if err := s.state.SetPendingQuestion(ctx, sessionID, eval.FollowUp); err != nil {
		log.Printf("interviewer: failed to store follow-up: %v", err)
	}

	return &AnswerResult{Eval: "probe", FollowUp: eval.FollowUp}, nil
}

func (s *InterviewerService) generateQuestion(ctx context.Context, sessionID uuid.UUID, assessment *models.Assessment, cfg *models.PhaseConfig) (string, error) {
	prior, err := s.qaPairs.ListBySession(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to load prior Q&A: %w", err)
	}

	var context []string
	for _, qa := range prior {
		context = append(context, fmt.Sprintf("Q: %s\nA: %s", qa.Question, qa.Answer))
	}

	systemPrompt := "You are a technical interviewer for a practical engineering assessment. Generate one focused technical question about the task the candidate is about to perform. Base it on the assessment description and their prior answers. Be conversational but probing."
	if cfg.AdaptivePrompt != "" {
		systemPrompt = cfg.AdaptivePrompt
	}

	question, err := s.ai.Complete(ctx, systemPrompt,
		fmt.Sprintf("Assessment: %s — %s\n\nPrior Q&A:\n%s\n\nGenerate the next technical question.",
			assessment.Title, assessment.Description, strings.Join(context, "\n\n")))
	if err != nil {
		return "", fmt.Errorf("failed to generate question: %w", err)
	}
	return strings.TrimSpace(question), nil
}

// advancePhase moves the session forward in both stores. Only forward
// transitions exist; there is no way back.
func (s *InterviewerService) advancePhase(ctx context.Context, sessionID uuid.UUID, phase string) error {
	if err := s.sessions.UpdatePhase(ctx, sessionID, phase); err != nil {
		return fmt.Errorf("failed to persist phase transition: %w", err)
	}
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{"phase": phase}); err != nil {
		log.Printf("interviewer: failed to mirror phase transition for %s: %v", sessionID, err)
	}
	return nil
}

func (s *InterviewerService) phaseConfig(assessment *models.Assessment, phase string) (*models.PhaseConfig, error) {
	switch phase {
	case models.PhaseIntro:
		return models.ParsePhaseConfig(assessment.IntroConfig)
	case models.PhaseDomain:
		return models.ParsePhaseConfig(assessment.DomainConfig)
	default:
		return nil, ErrNotInterviewPhase
	}
}

func nextPhase(phase string) string {
	if phase == models.PhaseIntro {
		return models.PhaseDomain
	}
	return models.PhaseLab
}
