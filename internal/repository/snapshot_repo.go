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

type SnapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepo(pool *pgxpool.Pool) *SnapshotRepo {
	return &SnapshotRepo{pool: pool}
}

func (r *SnapshotRepo) Create(ctx context.Context, s *models.Snapshot) error {
	s.ID = uuid.New()
	if len(s.Data) == 0 {
		s.Data = json.RawMessage("{}")
	}

	query := `INSERT INTO snapshots (id, session_id, timestamp, data)
		VALUES ($1, $2, $3, $4) RETURNING created_at`

	return r.pool.QueryRow(ctx, query, s.ID, s.SessionID, s.Timestamp, s.Data).Scan(&s.CreatedAt)
}

// ListBySession returns snapshots ordered by capture time, as the grader
// consumes them.
func (r *SnapshotRepo) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Snapshot, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, timestamp, data, created_at
		FROM snapshots
		WHERE session_id = $1
		ORDER BY timestamp ASC
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []models.Snapshot
	for rows.Next() {
		var s models.Snapshot
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Timestamp, &s.Data, &s.CreatedAt); err != nil {
			return nil, err
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// Latest returns the most recent snapshot, or nil if none exist yet.
func (r *SnapshotRepo) Latest(ctx context.Context, sessionID uuid.UUID) (*models.Snapshot, error) {
	s := &models.Snapshot{}
	err := r.pool.QueryRow(ctx, `
		SELECT id, session_id, timestamp, data, created_at
		FROM snapshots
		WHERE session_id = $1
		ORDER BY timestamp DESC
		LIMIT 1
	`, sessionID).Scan(&s.ID, &s.SessionID, &s.Timestamp, &s.Data, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}
