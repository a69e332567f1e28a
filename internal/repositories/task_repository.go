package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"taskflow/internal/models"
)

type TaskRepository interface {
	Store(ctx context.Context, task *models.Task) error
	FindByID(ctx context.Context, id string) (*models.Task, error)
	// FindByIDForUpdate locks the row until the surrounding transaction ends.
	FindByIDForUpdate(ctx context.Context, id string) (*models.Task, error)
	FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error)
	Update(ctx context.Context, task *models.Task) error
	SoftDelete(ctx context.Context, id string, at time.Time) error

	// NextNumber reserves the next task number of a project.
	NextNumber(ctx context.Context, projectID string) (int, error)
	IncrementCommentCount(ctx context.Context, id string, delta int) error
}

type taskRepository struct {
	db DBTX
}

func NewTaskRepository(db DBTX) TaskRepository {
	return &taskRepository{db: db}
}

const taskColumns = `t.id, t.project_id, p.key, t.task_number, t.type, t.title, t.description,
       t.status, t.priority, t.creator_id, t.assignee_id, t.due_date, t.estimated_hours, t.actual_hours,
       t.tags, t.labels, t.metadata, t.resolution, t.started_at, t.completed_at,
       t.attachment_count, t.comment_count, t.created_at, t.updated_at`

const taskFrom = ` FROM tasks t JOIN projects p ON p.id = t.project_id`

var taskSortColumns = map[string]string{
	"created_at":  "t.created_at",
	"title":       "t.title",
	"status":      "t.status",
	"due_date":    "t.due_date",
	"task_number": "t.task_number",
	"priority":    "CASE t.priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'urgent' THEN 4 END",
}

func (r *taskRepository) Store(ctx context.Context, task *models.Task) error {
	labels, metadata, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO tasks (
			id, project_id, task_number, type, title, description, status, priority,
			creator_id, assignee_id, due_date, estimated_hours, actual_hours,
			tags, labels, metadata, resolution, started_at, completed_at,
			attachment_count, comment_count, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`
	_, err = r.db.ExecContext(ctx, query,
		task.ID, task.ProjectID, task.TaskNumber, task.Type, task.Title, task.Description,
		task.Status, task.Priority, task.CreatorID, task.AssigneeID, task.DueDate,
		task.EstimatedHours, task.ActualHours, pq.Array(nonNilTags(task.Tags)), labels, metadata,
		task.Resolution, task.StartedAt, task.CompletedAt,
		task.AttachmentCount, task.CommentCount, task.CreatedAt, task.UpdatedAt,
	)
	return mapPQError(err)
}

func (r *taskRepository) FindByID(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + ` WHERE t.id = $1 AND t.deleted_at IS NULL`
	return r.findOne(ctx, query, id)
}

func (r *taskRepository) FindByIDForUpdate(ctx context.Context, id string) (*models.Task, error) {
	query := `SELECT ` + taskColumns + taskFrom + ` WHERE t.id = $1 AND t.deleted_at IS NULL FOR UPDATE OF t`
	return r.findOne(ctx, query, id)
}

func (r *taskRepository) findOne(ctx context.Context, query string, id string) (*models.Task, error) {
	task, err := scanTask(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return task, nil
}

func (r *taskRepository) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, int, error) {
	conditions := []string{"t.deleted_at IS NULL"}
	args := []any{}
	argID := 1

	add := func(cond string, v any) {
		conditions = append(conditions, fmt.Sprintf(cond, argID))
		args = append(args, v)
		argID++
	}
	if filter.ProjectID != nil {
		add("t.project_id = $%d", *filter.ProjectID)
	}
	if filter.AssigneeID != nil {
		add("t.assignee_id = $%d", *filter.AssigneeID)
	}
	if filter.CreatorID != nil {
		add("t.creator_id = $%d", *filter.CreatorID)
	}
	if filter.Status != nil {
		add("t.status = $%d", *filter.Status)
	}
	if filter.Priority != nil {
		add("t.priority = $%d", *filter.Priority)
	}
	if filter.Type != nil {
		add("t.type = $%d", *filter.Type)
	}
	if filter.Tag != nil {
		add("$%d = ANY(t.tags)", *filter.Tag)
	}
	if filter.Search != nil {
		conditions = append(conditions, fmt.Sprintf("(t.title ILIKE $%d OR t.description ILIKE $%d)", argID, argID))
		args = append(args, "%"+*filter.Search+"%")
		argID++
	}
	if filter.OverdueBefore != nil {
		conditions = append(conditions, "t.status NOT IN ('done', 'cancelled')")
		add("t.due_date < $%d", *filter.OverdueBefore)
	}
	where := " WHERE " + strings.Join(conditions, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*)`+taskFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := taskSortColumns[strings.ToLower(filter.SortBy)]
	if !ok {
		sortCol = taskSortColumns["created_at"]
	}
	dir := "DESC"
	if strings.EqualFold(filter.SortDirection, "asc") {
		dir = "ASC"
	}
	query := `SELECT ` + taskColumns + taskFrom + where + ` ORDER BY ` + sortCol + ` ` + dir + `, t.id`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argID, argID+1)
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, total, rows.Err()
}

func (r *taskRepository) Update(ctx context.Context, task *models.Task) error {
	labels, metadata, err := encodeTaskJSON(task)
	if err != nil {
		return err
	}
	query := `
		UPDATE tasks SET
			project_id=$1, task_number=$2, type=$3, title=$4, description=$5, status=$6,
			priority=$7, assignee_id=$8, due_date=$9, estimated_hours=$10, actual_hours=$11,
			tags=$12, labels=$13, metadata=$14, resolution=$15, started_at=$16,
			completed_at=$17, updated_at=$18
		WHERE id=$19 AND deleted_at IS NULL`
	res, err := r.db.ExecContext(ctx, query,
		task.ProjectID, task.TaskNumber, task.Type, task.Title, task.Description, task.Status,
		task.Priority, task.AssigneeID, task.DueDate, task.EstimatedHours, task.ActualHours,
		pq.Array(nonNilTags(task.Tags)), labels, metadata, task.Resolution, task.StartedAt,
		task.CompletedAt, task.UpdatedAt, task.ID,
	)
	if err != nil {
		return mapPQError(err)
	}
	return expectOneRow(res)
}

func (r *taskRepository) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET deleted_at=$1, updated_at=$1 WHERE id=$2 AND deleted_at IS NULL`, at, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// NextNumber bumps the project's counter. The counter never goes below the
// highest number ever stored for the project, deleted rows included, and the
// row lock taken by the UPDATE serializes concurrent allocations.
func (r *taskRepository) NextNumber(ctx context.Context, projectID string) (int, error) {
	q := `
UPDATE projects
SET task_seq = GREATEST(
        task_seq,
        (SELECT COALESCE(MAX(task_number), 0) FROM tasks WHERE project_id = $1)
    ) + 1
WHERE id = $1
RETURNING task_seq`
	var n int
	if err := r.db.QueryRowContext(ctx, q, projectID).Scan(&n); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return n, nil
}

func (r *taskRepository) IncrementCommentCount(ctx context.Context, id string, delta int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tasks SET comment_count = comment_count + $1 WHERE id = $2`, delta, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var (
		tags             pq.StringArray
		labels, metadata []byte
	)
	err := row.Scan(
		&t.ID, &t.ProjectID, &t.ProjectKey, &t.TaskNumber, &t.Type, &t.Title, &t.Description,
		&t.Status, &t.Priority, &t.CreatorID, &t.AssigneeID, &t.DueDate, &t.EstimatedHours, &t.ActualHours,
		&tags, &labels, &metadata, &t.Resolution, &t.StartedAt, &t.CompletedAt,
		&t.AttachmentCount, &t.CommentCount, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Tags = nonNilTags(tags)
	if t.Labels, err = decodeJSONMap(labels); err != nil {
		return nil, fmt.Errorf("decode labels of task %s: %w", t.ID, err)
	}
	if t.Metadata, err = decodeJSONMap(metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of task %s: %w", t.ID, err)
	}
	return t, nil
}

func encodeTaskJSON(task *models.Task) (labels, metadata []byte, err error) {
	if labels, err = encodeJSONMap(task.Labels); err != nil {
		return nil, nil, fmt.Errorf("encode labels: %w", err)
	}
	if metadata, err = encodeJSONMap(task.Metadata); err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	return labels, metadata, nil
}

func encodeJSONMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func decodeJSONMap(b []byte) (map[string]any, error) {
	out := map[string]any{}
	if len(b) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
