package repositories

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/models"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

var taskColumnNames = []string{
	"id", "project_id", "key", "task_number", "type", "title", "description",
	"status", "priority", "creator_id", "assignee_id", "due_date", "estimated_hours", "actual_hours",
	"tags", "labels", "metadata", "resolution", "started_at", "completed_at",
	"attachment_count", "comment_count", "created_at", "updated_at",
}

func taskRows(ids ...string) *sqlmock.Rows {
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(taskColumnNames)
	for i, id := range ids {
		rows.AddRow(id, "p1", "WEB", int64(i+1), "bug", "Fix login", "", "todo", "high", "alice", "bob",
			nil, 2.5, nil, []byte("{ui,auth}"), []byte(`{"sprint":"12"}`), []byte("{}"),
			nil, nil, nil, int64(0), int64(2), created, created)
	}
	return rows
}

func TestNextNumberBumpsProjectCounter(t *testing.T) {
	db, mock := newMock(t)
	repo := NewTaskRepository(db)

	// the floor counts every stored row of the project, soft-deleted ones too
	floor := regexp.QuoteMeta(
		"SET task_seq = GREATEST( task_seq, (SELECT COALESCE(MAX(task_number), 0) FROM tasks WHERE project_id = $1) ) + 1 WHERE id = $1 RETURNING task_seq")
	mock.ExpectQuery(floor).WithArgs("p1").
		WillReturnRows(sqlmock.NewRows([]string{"task_seq"}).AddRow(int64(7)))
	mock.ExpectQuery(floor).WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"task_seq"}))

	n, err := repo.NextNumber(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = repo.NextNumber(context.Background(), "gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMapPQError(t *testing.T) {
	unique := &pq.Error{Code: "23505", Constraint: "tasks_project_id_task_number_key"}
	foreignKey := &pq.Error{Code: "23503"}

	err := mapPQError(unique)
	require.ErrorIs(t, err, ErrConflict)
	assert.Contains(t, err.Error(), "tasks_project_id_task_number_key")

	require.ErrorIs(t, mapPQError(fmt.Errorf("commit tx: %w", unique)), ErrConflict)
	assert.Same(t, error(foreignKey), mapPQError(foreignKey))
	assert.NoError(t, mapPQError(nil))

	plain := errors.New("connection reset")
	assert.Equal(t, plain, mapPQError(plain))
}

func TestStoreReportsNumberConflict(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tasks")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "tasks_project_id_task_number_key"})

	err := NewTaskRepository(db).Store(context.Background(), &models.Task{
		ID: "t1", ProjectID: "p1", TaskNumber: 1, Type: models.TypeTask, Title: "dup",
		Status: models.StatusTodo, Priority: models.PriorityLow, CreatorID: "alice",
	})
	require.ErrorIs(t, err, ErrConflict)
}

func TestFindAllBuildsFilteredPagedQuery(t *testing.T) {
	db, mock := newMock(t)
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	where := "WHERE t.deleted_at IS NULL AND t.project_id = $1 AND t.status = $2 AND $3 = ANY(t.tags)" +
		" AND (t.title ILIKE $4 OR t.description ILIKE $4)" +
		" AND t.status NOT IN ('done', 'cancelled') AND t.due_date < $5"
	args := []driver.Value{"p1", "todo", "ui", "%bug%", cutoff}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM tasks t JOIN projects p ON p.id = t.project_id " + where)).
		WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(12)))
	mock.ExpectQuery(regexp.QuoteMeta(where+
		" ORDER BY CASE t.priority WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 WHEN 'urgent' THEN 4 END ASC, t.id"+
		" LIMIT $6 OFFSET $7")).
		WithArgs(append(args, int64(10), int64(10))...).
		WillReturnRows(taskRows("t11", "t12"))

	tasks, total, err := NewTaskRepository(db).FindAll(context.Background(), models.TaskFilter{
		ProjectID:     ptr("p1"),
		Status:        ptr(models.StatusTodo),
		Tag:           ptr("ui"),
		Search:        ptr("bug"),
		OverdueBefore: &cutoff,
		SortBy:        "Priority",
		SortDirection: "asc",
		Page:          2,
		PageSize:      10,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, tasks, 2)

	got := tasks[0]
	assert.Equal(t, "WEB-1", got.Key())
	assert.Equal(t, models.TypeBug, got.Type)
	assert.Equal(t, []string{"ui", "auth"}, got.Tags)
	assert.Equal(t, "12", got.Labels["sprint"])
	assert.NotNil(t, got.Metadata)
	require.NotNil(t, got.AssigneeID)
	assert.Equal(t, "bob", *got.AssigneeID)
	assert.Nil(t, got.DueDate)
	assert.Equal(t, 2.5, *got.EstimatedHours)
	assert.Equal(t, 2, got.CommentCount)
}

func TestFindAllIgnoresUnknownSortColumn(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*)")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
	// no paging requested, so the query ends at the tie-breaker
	mock.ExpectQuery(regexp.QuoteMeta("WHERE t.deleted_at IS NULL ORDER BY t.created_at DESC, t.id") + "$").
		WillReturnRows(sqlmock.NewRows(taskColumnNames))

	tasks, total, err := NewTaskRepository(db).FindAll(context.Background(),
		models.TaskFilter{SortBy: "title; DROP TABLE tasks"})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, tasks)
}

func TestFindByIDForUpdateLocksTaskRow(t *testing.T) {
	db, mock := newMock(t)
	lock := regexp.QuoteMeta("WHERE t.id = $1 AND t.deleted_at IS NULL FOR UPDATE OF t")
	mock.ExpectQuery(lock).WithArgs("t1").WillReturnRows(taskRows("t1"))
	mock.ExpectQuery(lock).WithArgs("gone").WillReturnRows(sqlmock.NewRows(taskColumnNames))

	repo := NewTaskRepository(db)
	task, err := repo.FindByIDForUpdate(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)

	_, err = repo.FindByIDForUpdate(context.Background(), "gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAndSoftDeleteReportMissingRows(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET deleted_at=$1, updated_at=$1 WHERE id=$2 AND deleted_at IS NULL")).
		WithArgs(sqlmock.AnyArg(), "t1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewTaskRepository(db)
	require.ErrorIs(t, repo.SoftDelete(context.Background(), "t1", time.Now()), ErrNotFound)
	require.ErrorIs(t, repo.Update(context.Background(), &models.Task{ID: "t1"}), ErrNotFound)
}

func TestInTxCommitsAndSharesTransaction(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE tasks SET comment_count = comment_count + $1 WHERE id = $2")).
		WithArgs(int64(1), "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	store := NewStore(db)
	err := store.InTx(ctx, func(st Store) error {
		// a nested unit of work joins the open transaction
		return st.InTx(ctx, func(inner Store) error {
			return inner.Tasks().IncrementCommentCount(ctx, "t1", 1)
		})
	})
	require.NoError(t, err)
}

func TestInTxRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO comments")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "comments_pkey"})
	mock.ExpectRollback()

	ctx := context.Background()
	err := NewStore(db).InTx(ctx, func(st Store) error {
		return st.Comments().Create(ctx, &models.Comment{ID: "c1", TaskID: "t1", UserID: "alice", Content: "hi"})
	})
	require.ErrorIs(t, err, ErrConflict)
}

func ptr[T any](v T) *T { return &v }
