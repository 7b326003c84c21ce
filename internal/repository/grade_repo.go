package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"proctor-backend/internal/models"
)

type GradeRepo struct {
	pool *pgxpool.Pool
}

func NewGradeRepo(pool *pgxpool.Pool) *GradeRepo {
	return &GradeRepo{pool: pool}
}

// Upsert writes the grade for a session, replacing any prior one. One grade
// row per session; a regrade overwrites in place.
func (r *GradeRepo) Upsert(ctx context.Context, g *models.Grade) error {
	scores, _ := json.Marshal(g.CheckpointScores)
	if scores == nil {
		scores = []byte("{}")
	}

	query := `INSERT INTO grades (session_id, verdict, checkpoint_scores, timeline_analysis,
		qa_analysis, overall_report, fallback)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id) DO UPDATE SET
			verdict = EXCLUDED.verdict,
			checkpoint_scores = EXCLUDED.checkpoint_scores,
			timeline_analysis = EXCLUDED.timeline_analysis,
			qa_analysis = EXCLUDED.qa_analysis,
			overall_report = EXCLUDED.overall_report,
			fallback = EXCLUDED.fallback,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return r.pool.QueryRow(ctx, query,
		g.SessionID, g.Verdict, scores, g.TimelineAnalysis, g.QAAnalysis, g.OverallReport, g.Fallback,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
}

// GetBySession returns nil (no error) when the session has not been graded.
func (r *GradeRepo) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Grade, error) {
	g := &models.Grade{}
	var scores []byte

	err := r.pool.QueryRow(ctx, `
		SELECT session_id, verdict, checkpoint_scores, timeline_analysis,
			qa_analysis, overall_report, fallback, created_at, updated_at
		FROM grades WHERE session_id = $1
	`, sessionID).Scan(
		&g.SessionID, &g.Verdict, &scores, &g.TimelineAnalysis,
		&g.QAAnalysis, &g.OverallReport, &g.Fallback, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(scores, &g.CheckpointScores); err != nil {
		g.CheckpointScores = map[string]int{}
	}
	return g, nil
}
