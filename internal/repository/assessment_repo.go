package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"proctor-backend/internal/models"
)

type AssessmentRepo struct {
	pool *pgxpool.Pool
}

func NewAssessmentRepo(pool *pgxpool.Pool) *AssessmentRepo {
	return &AssessmentRepo{pool: pool}
}

func (r *AssessmentRepo) GetByID(ctx context.Context, id string) (*models.Assessment, error) {
	a := &models.Assessment{}
	query := `SELECT id, title, description, difficulty, environment, time_limit,
		intro_config, domain_config, lab_config, created_at
		FROM assessments WHERE id = $1`

	err := r.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Title, &a.Description, &a.Difficulty, &a.Environment, &a.TimeLimit,
		&a.IntroConfig, &a.DomainConfig, &a.LabConfig, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AssessmentRepo) List(ctx context.Context) ([]models.Assessment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, description, difficulty, environment, time_limit,
			intro_config, domain_config, lab_config, created_at
		FROM assessments
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []models.Assessment
	for rows.Next() {
		var a models.Assessment
		if err := rows.Scan(
			&a.ID, &a.Title, &a.Description, &a.Difficulty, &a.Environment, &a.TimeLimit,
			&a.IntroConfig, &a.DomainConfig, &a.LabConfig, &a.CreatedAt,
		); err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}
	return assessments, rows.Err()
}

// Upsert validates the phase and lab configs before writing; untyped blobs
// never reach the table.
func (r *AssessmentRepo) Upsert(ctx context.Context, a *models.Assessment) error {
	if _, err := models.ParsePhaseConfig(a.IntroConfig); err != nil {
		return err
	}
	if _, err := models.ParsePhaseConfig(a.DomainConfig); err != nil {
		return err
	}
	if _, err := models.ParseLabConfig(a.LabConfig); err != nil {
		return err
	}

	query := `INSERT INTO assessments (id, title, description, difficulty, environment, time_limit,
		intro_config, domain_config, lab_config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			difficulty = EXCLUDED.difficulty,
			environment = EXCLUDED.environment,
			time_limit = EXCLUDED.time_limit,
			intro_config = EXCLUDED.intro_config,
			domain_config = EXCLUDED.domain_config,
			lab_config = EXCLUDED.lab_config
		RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		a.ID, a.Title, a.Description, a.Difficulty, a.Environment, a.TimeLimit,
		a.IntroConfig, a.DomainConfig, a.LabConfig,
	).Scan(&a.CreatedAt)
}
