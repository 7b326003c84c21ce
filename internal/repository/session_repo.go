package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"proctor-backend/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *models.Session) error {
	s.ID = uuid.New()
	s.Status = models.StatusQueued
	s.Phase = models.PhaseQueued

	query := `INSERT INTO sessions (id, user_id, assessment_id, status, phase)
		VALUES ($1, $2, $3, $4, $5) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.AssessmentID, s.Status, s.Phase,
	).Scan(&s.CreatedAt)
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s := &models.Session{}
	query := `SELECT id, user_id, assessment_id, status, phase, sandbox_id, override_verdict,
		created_at, started_at, ended_at
		FROM sessions WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&s.ID, &s.UserID, &s.AssessmentID, &s.Status, &s.Phase, &s.SandboxID,
		&s.OverrideVerdict, &s.CreatedAt, &s.StartedAt, &s.EndedAt,
	)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE sessions SET status = $1 WHERE id = $2", status, id)
	return err
}

func (r *SessionRepo) UpdatePhase(ctx context.Context, id uuid.UUID, phase string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE sessions SET phase = $1 WHERE id = $2", phase, id)
	return err
}

// MarkActive records a successful admission: the sandbox is bound and the
// clock starts.
func (r *SessionRepo) MarkActive(ctx context.Context, id uuid.UUID, sandboxID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, phase = $2, sandbox_id = $3, started_at = NOW()
		WHERE id = $4
	`, models.StatusActive, models.PhaseIntro, sandboxID, id)
	return err
}

// finish moves a session to a terminal status. Terminal states are set at
// most once; the sandbox reference is always cleared with them.
func (r *SessionRepo) finish(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $1, ended_at = NOW(), sandbox_id = NULL
		WHERE id = $2 AND status NOT IN ($3, $4)
	`, status, id, models.StatusCompleted, models.StatusAbandoned)
	return err
}

func (r *SessionRepo) Complete(ctx context.Context, id uuid.UUID) error {
	return r.finish(ctx, id, models.StatusCompleted)
}

func (r *SessionRepo) Abandon(ctx context.Context, id uuid.UUID) error {
	return r.finish(ctx, id, models.StatusAbandoned)
}

func (r *SessionRepo) SetFinalArtifact(ctx context.Context, id uuid.UUID, artifact []byte) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE sessions SET final_artifact = $1 WHERE id = $2", artifact, id)
	return err
}

func (r *SessionRepo) SetOverrideVerdict(ctx context.Context, id uuid.UUID, verdict string) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE sessions SET override_verdict = $1 WHERE id = $2", verdict, id)
	return err
}

// ListActive returns every active session joined with its assessment's
// time limit, for the reaper sweep.
func (r *SessionRepo) ListActive(ctx context.Context) ([]models.ActiveSession, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.started_at, a.time_limit
		FROM sessions s
		JOIN assessments a ON a.id = s.assessment_id
		WHERE s.status = $1
	`, models.StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.ActiveSession
	for rows.Next() {
		var s models.ActiveSession
		if err := rows.Scan(&s.ID, &s.StartedAt, &s.TimeLimit); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ListQueuedOlderThan returns queued sessions created before the cutoff.
func (r *SessionRepo) ListQueuedOlderThan(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM sessions
		WHERE status = $1 AND created_at < $2
	`, models.StatusQueued, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListRecent returns recent sessions for the admin view.
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, assessment_id, status, phase, sandbox_id, override_verdict,
			created_at, started_at, ended_at
		FROM sessions
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.AssessmentID, &s.Status, &s.Phase, &s.SandboxID,
			&s.OverrideVerdict, &s.CreatedAt, &s.StartedAt, &s.EndedAt,
		); err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
