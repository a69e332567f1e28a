package repositories

import (
	"context"
	"database/sql"
	"errors"

	"taskflow/internal/models"
)

type ProjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Project, error)
}

type projectRepository struct {
	db DBTX
}

func NewProjectRepository(db DBTX) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) FindByID(ctx context.Context, id string) (*models.Project, error) {
	const q = `
		SELECT id, key, name, status, creator_id, created_at, updated_at
		FROM projects
		WHERE id = $1 AND deleted_at IS NULL
	`
	p := &models.Project{}
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&p.ID, &p.Key, &p.Name, &p.Status, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}
