package repositories

import (
	"context"
	"database/sql"
	"errors"

	"taskflow/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

type userRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	const q = `
		SELECT
			id, username, COALESCE(full_name, ''), email, is_active,
			COALESCE(telegram_chat_id, 0), COALESCE(notify_tasks_telegram, TRUE)
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`
	u := &models.User{}
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.FullName, &u.Email, &u.IsActive,
		&u.TelegramChatID, &u.NotifyTasksTelegram,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return u, nil
}
