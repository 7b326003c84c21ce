package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"proctor-backend/internal/models"
	"proctor-backend/internal/sandbox"
	"proctor-backend/internal/state"
)

var ErrSessionNotFound = errors.New("session not found")

// Narrow views of the durable stores, satisfied by the pgx repositories.
type sessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	MarkActive(ctx context.Context, id uuid.UUID, sandboxID string) error
	Complete(ctx context.Context, id uuid.UUID) error
	Abandon(ctx context.Context, id uuid.UUID) error
	SetFinalArtifact(ctx context.Context, id uuid.UUID, artifact []byte) error
	ListActive(ctx context.Context) ([]models.ActiveSession, error)
	ListQueuedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type assessmentStore interface {
	GetByID(ctx context.Context, id string) (*models.Assessment, error)
}

// Scheduler admits exam sessions under the sandbox capacity cap. The
// capacity check is read-then-act without a distributed lock: concurrent
// starts at the boundary can transiently exceed the cap by one. That soft
// bound is accepted; sandbox capacity is a resource cap, not a
// correctness invariant.
type Scheduler struct {
	sessions     sessionStore
	assessments  assessmentStore
	state        *state.Store
	provisioner  sandbox.Provisioner
	maxSandboxes int
	artifactPath string
}

type StartResult struct {
	SessionID uuid.UUID `json:"session_id"`
	Status    string    `json:"status"`
}

func New(
	sessions sessionStore,
	assessments assessmentStore,
	stateStore *state.Store,
	provisioner sandbox.Provisioner,
	maxSandboxes int,
	artifactPath string,
) *Scheduler {
	return &Scheduler{
		sessions:     sessions,
		assessments:  assessments,
		state:        stateStore,
		provisioner:  provisioner,
		maxSandboxes: maxSandboxes,
		artifactPath: artifactPath,
	}
}

// StartSession creates a session and either provisions a sandbox
// immediately or enqueues it. Provisioning failure never strands the
// session: it always falls back to the queue.
func (s *Scheduler) StartSession(ctx context.Context, userID uuid.UUID, assessmentID string) (*StartResult, error) {
	if _, err := s.assessments.GetByID(ctx, assessmentID); err != nil {
		return nil, fmt.Errorf("unknown assessment %s: %w", assessmentID, err)
	}

	session := &models.Session{UserID: userID, AssessmentID: assessmentID}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	if err := s.state.UpdateSession(ctx, session.ID, map[string]string{
		"user_id":       userID.String(),
		"assessment_id": assessmentID,
		"status":        models.StatusQueued,
		"phase":         models.PhaseQueued,
		"start_time":    time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("failed to mirror session state: %w", err)
	}

	active, err := s.state.ActiveSandboxCount(ctx)
	if err != nil {
		// Can't read capacity: enqueue rather than guess.
		log.Printf("scheduler: failed to read active sandbox count: %v", err)
		active = s.maxSandboxes
	}

	if active < s.maxSandboxes {
		if err := s.provision(ctx, session.ID); err != nil {
			log.Printf("scheduler: provisioning failed for %s, falling back to queue: %v", session.ID, err)
			s.enqueue(ctx, session.ID)
			return &StartResult{SessionID: session.ID, Status: models.StatusQueued}, nil
		}
		return &StartResult{SessionID: session.ID, Status: models.StatusReady}, nil
	}

	s.enqueue(ctx, session.ID)
	return &StartResult{SessionID: session.ID, Status: models.StatusQueued}, nil
}

// provision runs the full sandbox bring-up for a session: create, wait
// healthy, record the mapping, then mark the session active.
func (s *Scheduler) provision(ctx context.Context, sessionID uuid.UUID) error {
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{"status": models.StatusProvisioning}); err != nil {
		return err
	}

	handle, err := s.provisioner.Create(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("sandbox create failed: %w", err)
	}

	// Any failure past this point must release the sandbox and its
	// mapping, or the slot stays occupied for the mirror's full TTL.
	if !s.provisioner.WaitHealthy(ctx, handle.Endpoint) {
		s.teardown(ctx, handle.SandboxID)
		return fmt.Errorf("sandbox %s never became healthy", handle.SandboxID)
	}

	if err := s.state.MapSandbox(ctx, handle.SandboxID, sessionID); err != nil {
		s.teardown(ctx, handle.SandboxID)
		return fmt.Errorf("failed to record sandbox mapping: %w", err)
	}

	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{
		"status":     models.StatusReady,
		"phase":      models.PhaseIntro,
		"sandbox_id": handle.SandboxID,
		"endpoint":   handle.Endpoint,
	}); err != nil {
		s.teardown(ctx, handle.SandboxID)
		return err
	}

	if err := s.sessions.MarkActive(ctx, sessionID, handle.SandboxID); err != nil {
		s.teardown(ctx, handle.SandboxID)
		return fmt.Errorf("failed to persist active session: %w", err)
	}

	s.publishStatus(ctx, sessionID, models.StatusReady, models.PhaseIntro)
	log.Printf("scheduler: session %s ready on sandbox %s (%s)", sessionID, handle.SandboxID, handle.Endpoint)
	return nil
}

// ProvisionQueued is the promotion path: the worker pool re-invokes
// admission for a session popped off the queue. A failed promotion
// re-enters the queue rather than being dropped.
func (s *Scheduler) ProvisionQueued(ctx context.Context, sessionID uuid.UUID) error {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("promoted session %s not found: %w", sessionID, err)
	}
	if session.Status != models.StatusQueued {
		// Reaped or already admitted while waiting; nothing to do.
		return nil
	}

	if err := s.provision(ctx, sessionID); err != nil {
		log.Printf("scheduler: promotion of %s failed, re-queueing: %v", sessionID, err)
		s.enqueue(ctx, sessionID)
		return err
	}
	return nil
}

// EndSession handles a normal end-of-session: extract the artifact, tear
// the sandbox down, queue grading, and promote the next waiting session.
// A duplicate call is a safe no-op.
func (s *Scheduler) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	st, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if st == nil {
		// Mirror expired; fall back to the durable record.
		session, err := s.sessions.GetByID(ctx, sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		if session.Status == models.StatusCompleted || session.Status == models.StatusAbandoned {
			return nil
		}
		return ErrSessionNotFound
	}
	if st.Status == models.StatusCompleted {
		// Second end call: sandbox already gone, grading already queued.
		return nil
	}

	if st.SandboxID != "" {
		s.captureArtifact(ctx, sessionID, st.SandboxID)
		s.teardown(ctx, st.SandboxID)
	}

	if err := s.sessions.Complete(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{
		"status":     models.StatusCompleted,
		"phase":      models.PhaseGrading,
		"sandbox_id": "",
		"endpoint":   "",
	}); err != nil {
		log.Printf("scheduler: failed to update mirror for ended session %s: %v", sessionID, err)
	}
	s.state.ClearHeartbeat(ctx, sessionID)

	if err := s.state.DispatchTask(ctx, state.QueueGrading, sessionID); err != nil {
		log.Printf("scheduler: failed to dispatch grading for %s: %v", sessionID, err)
	}

	s.PromoteNext(ctx)
	return nil
}

// Reclaim tears down a dead session: sandbox destroyed best-effort,
// durable status abandoned, capacity freed. Safe to attempt twice.
func (s *Scheduler) Reclaim(ctx context.Context, sessionID uuid.UUID) {
	st, err := s.state.GetSession(ctx, sessionID)
	if err != nil {
		log.Printf("scheduler: reclaim failed to read state for %s: %v", sessionID, err)
	}

	sandboxID := ""
	if st != nil {
		sandboxID = st.SandboxID
	}
	if sandboxID == "" {
		// Mirror may have expired; the durable row still knows the sandbox.
		if session, err := s.sessions.GetByID(ctx, sessionID); err == nil && session.SandboxID != nil {
			sandboxID = *session.SandboxID
		}
	}
	if sandboxID != "" {
		s.teardown(ctx, sandboxID)
	}

	if err := s.sessions.Abandon(ctx, sessionID); err != nil {
		log.Printf("scheduler: failed to mark session %s abandoned: %v", sessionID, err)
	}
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{
		"status":     models.StatusCompleted,
		"phase":      models.PhaseGrading,
		"sandbox_id": "",
		"endpoint":   "",
	}); err != nil {
		log.Printf("scheduler: failed to update mirror for reclaimed session %s: %v", sessionID, err)
	}
	s.state.ClearHeartbeat(ctx, sessionID)

	s.PromoteNext(ctx)
}

// PromoteNext pops the earliest queued session, if any, and dispatches its
// provisioning to the worker pool. Each freed capacity unit triggers at
// most one promotion attempt; the triggering request never blocks on it.
func (s *Scheduler) PromoteNext(ctx context.Context) {
	next, ok, err := s.state.PopFront(ctx)
	if err != nil {
		log.Printf("scheduler: failed to pop queue: %v", err)
		return
	}
	if !ok {
		return
	}

	if err := s.state.DispatchTask(ctx, state.QueueProvision, next); err != nil {
		// Don't lose the session: put it back.
		log.Printf("scheduler: failed to dispatch promotion for %s, re-queueing: %v", next, err)
		s.enqueue(ctx, next)
	}
}

// Heartbeat records a liveness signal for the session.
func (s *Scheduler) Heartbeat(ctx context.Context, sessionID uuid.UUID) error {
	return s.state.Touch(ctx, sessionID)
}

func (s *Scheduler) enqueue(ctx context.Context, sessionID uuid.UUID) {
	if err := s.state.UpdateSession(ctx, sessionID, map[string]string{"status": models.StatusQueued}); err != nil {
		log.Printf("scheduler: failed to reset state for queued session %s: %v", sessionID, err)
	}
	if err := s.state.Enqueue(ctx, sessionID); err != nil {
		log.Printf("scheduler: failed to enqueue session %s: %v", sessionID, err)
	}
}

// captureArtifact pulls the final work product before teardown. Losing the
// artifact is non-fatal; grading proceeds on snapshots.
func (s *Scheduler) captureArtifact(ctx context.Context, sessionID uuid.UUID, sandboxID string) {
	artifact, err := s.provisioner.ExtractFile(ctx, sandboxID, s.artifactPath)
	if err != nil {
		log.Printf("scheduler: failed to extract artifact for %s: %v", sessionID, err)
		return
	}
	if err := s.sessions.SetFinalArtifact(ctx, sessionID, artifact); err != nil {
		log.Printf("scheduler: failed to store artifact for %s: %v", sessionID, err)
	}
}

// teardown destroys a sandbox and clears its mapping. Best-effort: an
// orphaned sandbox is an operational concern, not a user-facing error.
func (s *Scheduler) teardown(ctx context.Context, sandboxID string) {
	if err := s.provisioner.Destroy(ctx, sandboxID); err != nil {
		log.Printf("scheduler: failed to destroy sandbox %s: %v", sandboxID, err)
	}
	if err := s.state.UnmapSandbox(ctx, sandboxID); err != nil {
		log.Printf("scheduler: failed to unmap sandbox %s: %v", sandboxID, err)
	}
}

func (s *Scheduler) publishStatus(ctx context.Context, sessionID uuid.UUID, status, phase string) {
	st, err := s.state.GetSession(ctx, sessionID)
	if err != nil || st == nil {
		return
	}
	userID, err := uuid.Parse(st.UserID)
	if err != nil {
		return
	}
	s.state.PublishUserEvent(ctx, userID, models.WSMessage{
		Type:    "status_update",
		Payload: models.StatusEvent{SessionID: sessionID, Status: status, Phase: phase},
	})
}
