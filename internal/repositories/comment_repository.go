package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"taskflow/internal/models"
)

type CommentRepository interface {
	Create(ctx context.Context, c *models.Comment) error
	FindByID(ctx context.Context, id string) (*models.Comment, error)
	UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	// ToggleLike flips userID's like on a comment and returns the new state.
	ToggleLike(ctx context.Context, commentID, userID string, at time.Time) (liked bool, count int, err error)
	// ListActivity returns the newest comments of a task first, authors joined.
	ListActivity(ctx context.Context, taskID string, limit int) ([]models.ActivityEntry, error)
}

type commentRepository struct {
	db DBTX
}

func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, c *models.Comment) error {
	metadata, err := encodeJSONMap(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode comment metadata: %w", err)
	}
	const q = `
                INSERT INTO comments (
                        id, task_id, user_id, content, is_system, system_action,
                        metadata, is_edited, edited_at, created_at
                )
                VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        `
	_, err = r.db.ExecContext(ctx, q,
		c.ID, c.TaskID, c.UserID, c.Content, c.IsSystem, c.SystemAction,
		metadata, c.IsEdited, c.EditedAt, c.CreatedAt,
	)
	return mapPQError(err)
}

func (r *commentRepository) FindByID(ctx context.Context, id string) (*models.Comment, error) {
	const q = `
                SELECT id, task_id, user_id, content, is_system, system_action,
                       metadata, is_edited, edited_at, like_count, created_at
                FROM comments
                WHERE id = $1 AND deleted_at IS NULL
        `
	var (
		c        models.Comment
		action   sql.NullString
		metadata []byte
	)
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.TaskID, &c.UserID, &c.Content, &c.IsSystem, &action,
		&metadata, &c.IsEdited, &c.EditedAt, &c.LikeCount, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.SystemAction = systemActionOf(action)
	if c.Metadata, err = decodeJSONMap(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of comment %s: %w", c.ID, err)
	}
	return &c, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, id, content string, editedAt time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE comments SET content=$1, is_edited=TRUE, edited_at=$2 WHERE id=$3 AND is_system=FALSE AND deleted_at IS NULL`,
		content, editedAt, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *commentRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE comments SET deleted_at=$1 WHERE id=$2 AND is_system=FALSE AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (r *commentRepository) ToggleLike(ctx context.Context, commentID, userID string, at time.Time) (bool, int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM comment_likes WHERE comment_id=$1 AND user_id=$2`, commentID, userID)
	if err != nil {
		return false, 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return false, 0, err
	}
	delta, liked := -1, false
	if removed == 0 {
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO comment_likes (comment_id, user_id, created_at) VALUES ($1,$2,$3)`,
			commentID, userID, at); err != nil {
			return false, 0, mapPQError(err)
		}
		delta, liked = 1, true
	}
	var count int
	err = r.db.QueryRowContext(ctx,
		`UPDATE comments SET like_count = like_count + $1 WHERE id = $2 AND deleted_at IS NULL RETURNING like_count`,
		delta, commentID).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, 0, ErrNotFound
		}
		return false, 0, err
	}
	return liked, count, nil
}

func (r *commentRepository) ListActivity(ctx context.Context, taskID string, limit int) ([]models.ActivityEntry, error) {
	const q = `
                SELECT c.id, c.task_id, c.content, c.is_system, c.system_action, c.metadata, c.like_count,
                       c.created_at, c.user_id, COALESCE(u.username, ''), COALESCE(u.full_name, '')
                FROM comments c
                LEFT JOIN users u ON u.id = c.user_id
                WHERE c.task_id = $1 AND c.deleted_at IS NULL
                ORDER BY c.created_at DESC, c.id DESC
                LIMIT $2
        `
	rows, err := r.db.QueryContext(ctx, q, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ActivityEntry
	for rows.Next() {
		var (
			e        models.ActivityEntry
			action   sql.NullString
			metadata []byte
		)
		if err := rows.Scan(
			&e.ID, &e.TaskID, &e.Content, &e.IsSystem, &action, &metadata, &e.LikeCount,
			&e.CreatedAt, &e.Actor.ID, &e.Actor.Username, &e.Actor.FullName,
		); err != nil {
			return nil, err
		}
		e.Type = models.ActivityTypeComment
		e.SystemAction = systemActionOf(action)
		if e.Metadata, err = decodeJSONMap(metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of comment %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func systemActionOf(s sql.NullString) *models.SystemAction {
	if !s.Valid || s.String == "" {
		return nil
	}
	a := models.SystemAction(s.String)
	return &a
}
