package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"proctor-backend/internal/models"
)

type QARepo struct {
	pool *pgxpool.Pool
}

func NewQARepo(pool *pgxpool.Pool) *QARepo {
	return &QARepo{pool: pool}
}

func (r *QARepo) Create(ctx context.Context, qa *models.QAPair) error {
	qa.ID = uuid.New()

	query := `INSERT INTO qa_pairs (id, session_id, phase, question, answer, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		qa.ID, qa.SessionID, qa.Phase, qa.Question, qa.Answer, qa.Timestamp,
	).Scan(&qa.CreatedAt)
}

func (r *QARepo) SetEvalScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE qa_pairs SET eval_score = $1 WHERE id = $2", score, id)
	return err
}

func (r *QARepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.QAPair, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, phase, question, answer, eval_score, timestamp, created_at
		FROM qa_pairs
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []models.QAPair
	for rows.Next() {
		var qa models.QAPair
		if err := rows.Scan(
			&qa.ID, &qa.SessionID, &qa.Phase, &qa.Question, &qa.Answer,
			&qa.EvalScore, &qa.Timestamp, &qa.CreatedAt,
		); err != nil {
			return nil, err
		}
		pairs = append(pairs, qa)
	}
	return pairs, rows.Err()
}

// CountByPhase counts persisted answers for one phase, which drives the
// question quota.
func (r *QARepo) CountByPhase(ctx context.Context, sessionID uuid.UUID, phase string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM qa_pairs WHERE session_id = $1 AND phase = $2",
		sessionID, phase,
	).Scan(&count)
	return count, err
}
