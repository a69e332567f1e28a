// internal/services/task_service.go
package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"taskflow/internal/models"
	"taskflow/internal/repositories"
)

const (
	maxTitleLength  = 200
	defaultPageSize = 20
	maxPageSize     = 100
	maxBatchSize    = 100
)

// ActivityPublisher receives the comments of a committed operation.
type ActivityPublisher interface {
	Publish(ctx context.Context, entries []models.ActivityEntry)
}

// TaskService is the task lifecycle engine: the only writer of status,
// assignee and lifecycle timestamps, and the emitter of system comments.
type TaskService interface {
	Create(ctx context.Context, actorID string, in models.CreateTaskInput) (*models.Task, error)
	GetByID(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, filter models.TaskFilter) (*models.TaskPage, error)
	Update(ctx context.Context, id, actorID string, upd models.TaskUpdate) (*models.Task, error)
	Delete(ctx context.Context, id, actorID string) error

	SetStatus(ctx context.Context, id, actorID string, to models.TaskStatus) (*models.Task, error)
	Assign(ctx context.Context, id, actorID, assigneeID string) (*models.Task, error)
	Unassign(ctx context.Context, id, actorID string) (*models.Task, error)
	Complete(ctx context.Context, id, actorID string, resolution *string) (*models.Task, error)
	Reopen(ctx context.Context, id, actorID string) (*models.Task, error)
	Cancel(ctx context.Context, id, actorID string, reason *string) (*models.Task, error)

	AddTag(ctx context.Context, id, tag string) (*models.Task, error)
	RemoveTag(ctx context.Context, id, tag string) (*models.Task, error)
	Copy(ctx context.Context, id string, targetProjectID *string, actorID string) (*models.Task, error)
	Move(ctx context.Context, id, targetProjectID, actorID string) (*models.Task, error)
	UpdateHours(ctx context.Context, id, actorID string, actualHours float64) (*models.Task, error)

	BatchSetStatus(ctx context.Context, ids []string, actorID string, to models.TaskStatus) (*models.BatchResult, error)
	BatchDelete(ctx context.Context, ids []string, actorID string) (*models.BatchResult, error)
	// Overdue lists open tasks due before today, earliest due date first.
	Overdue(ctx context.Context, projectID, assigneeID *string) ([]models.Task, error)

	Statistics(ctx context.Context, projectID string) (*models.TaskStatistics, error)
	UserStatistics(ctx context.Context, userID string) (*models.TaskStatistics, error)
}

type taskService struct {
	store     repositories.Store
	policy    TransitionPolicy
	publisher ActivityPublisher
	now       func() time.Time
	newID     func() string
}

type TaskOption func(*taskService)

func WithTransitionPolicy(p TransitionPolicy) TaskOption {
	return func(s *taskService) { s.policy = p }
}

func WithActivityPublisher(p ActivityPublisher) TaskOption {
	return func(s *taskService) { s.publisher = p }
}

func WithClock(now func() time.Time) TaskOption {
	return func(s *taskService) { s.now = now }
}

// NewTaskService creates a new instance of TaskService.
func NewTaskService(store repositories.Store, opts ...TaskOption) TaskService {
	s := &taskService{
		store: store,
		now:   func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *taskService) Create(ctx context.Context, actorID string, in models.CreateTaskInput) (*models.Task, error) {
	if in.Type == "" {
		in.Type = models.TypeTask
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	var created *models.Task
	var comments []*models.Comment
	err := withNumberingRetry(ctx, func() error {
		return s.store.InTx(ctx, func(st repositories.Store) error {
			project, err := activeProject(ctx, st, in.ProjectID)
			if err != nil {
				return err
			}
			if in.AssigneeID != nil && *in.AssigneeID != "" {
				if _, err := activeUser(ctx, st, *in.AssigneeID); err != nil {
					return err
				}
			} else {
				in.AssigneeID = nil
			}
			n, err := allocateNumber(ctx, st, project.ID)
			if err != nil {
				return err
			}
			now := s.now()
			task := &models.Task{
				ID:             s.newID(),
				ProjectID:      project.ID,
				ProjectKey:     project.Key,
				TaskNumber:     n,
				Type:           in.Type,
				Title:          strings.TrimSpace(in.Title),
				Description:    in.Description,
				Status:         models.StatusTodo,
				Priority:       in.Priority,
				CreatorID:      actorID,
				AssigneeID:     in.AssigneeID,
				DueDate:        in.DueDate,
				EstimatedHours: in.EstimatedHours,
				Tags:           dedupeTags(in.Tags),
				Labels:         orEmpty(in.Labels),
				Metadata:       map[string]any{},
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := st.Tasks().Store(ctx, task); err != nil {
				return err
			}
			cs := s.newChangeSet(actorID)
			cs.emit(task.ID, models.ActionTaskCreated, "created this task", nil)
			if err := cs.flushComments(ctx, st); err != nil {
				return err
			}
			created, comments = task, cs.comments
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, comments)
	return created, nil
}

func (s *taskService) GetByID(ctx context.Context, id string) (*models.Task, error) {
	task, err := s.store.Tasks().FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "task", id)
	}
	return task, nil
}

func (s *taskService) List(ctx context.Context, filter models.TaskFilter) (*models.TaskPage, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, invalidf("unknown status %q", *filter.Status)
	}
	if filter.Priority != nil && !filter.Priority.Valid() {
		return nil, invalidf("unknown priority %q", *filter.Priority)
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, invalidf("unknown type %q", *filter.Type)
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	if filter.PageSize > maxPageSize {
		filter.PageSize = maxPageSize
	}
	if filter.Page > math.MaxInt32/filter.PageSize {
		return nil, invalidf("page %d is out of range", filter.Page)
	}
	items, total, err := s.store.Tasks().FindAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.Task{}
	}
	return &models.TaskPage{Items: items, TotalCount: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *taskService) Update(ctx context.Context, id, actorID string, upd models.TaskUpdate) (*models.Task, error) {
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		if err := validateUpdate(upd); err != nil {
			return err
		}

		if upd.Title != nil {
			task.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Description != nil {
			task.Description = *upd.Description
		}
		if upd.Type != nil {
			task.Type = *upd.Type
		}
		if upd.Priority != nil {
			task.Priority = *upd.Priority
		}
		if upd.ClearDueDate {
			task.DueDate = nil
		} else if upd.DueDate != nil {
			task.DueDate = upd.DueDate
		}
		if upd.EstimatedHours != nil {
			task.EstimatedHours = upd.EstimatedHours
		}
		if upd.ActualHours != nil {
			task.ActualHours = upd.ActualHours
		}
		if upd.Tags != nil {
			task.Tags = dedupeTags(upd.Tags)
		}
		if upd.Labels != nil {
			task.Labels = upd.Labels
		}
		if upd.Metadata != nil {
			task.Metadata = upd.Metadata
		}
		if upd.Resolution != nil {
			task.Resolution = upd.Resolution
		}
		cs.touch()

		if upd.Status != nil {
			if _, err := s.changeStatus(task, *upd.Status, cs); err != nil {
				return err
			}
		}
		if upd.AssigneeID != nil {
			if err := s.changeAssignee(ctx, st, task, *upd.AssigneeID, cs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *taskService) Delete(ctx context.Context, id, actorID string) error {
	return s.store.InTx(ctx, func(st repositories.Store) error {
		task, err := st.Tasks().FindByIDForUpdate(ctx, id)
		if err != nil {
			return translate(err, "task", id)
		}
		if err := requireCreator(task, actorID, "delete"); err != nil {
			return err
		}
		return translate(st.Tasks().SoftDelete(ctx, id, s.now()), "task", id)
	})
}

func (s *taskService) SetStatus(ctx context.Context, id, actorID string, to models.TaskStatus) (*models.Task, error) {
	if !to.Valid() {
		return nil, invalidf("unknown status %q", to)
	}
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		changed, err := s.changeStatus(task, to, cs)
		if err != nil {
			return err
		}
		if changed && to == models.StatusDone {
			cs.emit(task.ID, models.ActionTaskCompleted, "marked this task as completed", nil)
		}
		return nil
	})
}

func (s *taskService) Assign(ctx context.Context, id, actorID, assigneeID string) (*models.Task, error) {
	if strings.TrimSpace(assigneeID) == "" {
		return nil, invalidf("assignee id is required")
	}
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		assignee, err := activeUser(ctx, st, assigneeID)
		if err != nil {
			return err
		}
		if task.IsAssignee(assignee.ID) {
			return nil
		}

		metadata := map[string]any{"assignee": assignee.DisplayName(), "assignee_id": assignee.ID}
		content := fmt.Sprintf("assigned this task to %s", assignee.DisplayName())
		if task.AssigneeID != nil {
			previous := userName(ctx, st, *task.AssigneeID)
			content = fmt.Sprintf("reassigned this task from %s to %s", previous, assignee.DisplayName())
			metadata["from"] = previous
			metadata["from_id"] = *task.AssigneeID
		}
		task.AssigneeID = &assignee.ID
		cs.touch()
		cs.emit(task.ID, models.ActionAssigneeChanged, content, metadata)
		return nil
	})
}

func (s *taskService) Unassign(ctx context.Context, id, actorID string) (*models.Task, error) {
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		if task.AssigneeID == nil {
			return nil
		}
		previous := *task.AssigneeID
		task.AssigneeID = nil
		cs.touch()
		cs.emit(task.ID, models.ActionAssigneeChanged, "unassigned this task",
			map[string]any{"from_id": previous})
		return nil
	})
}

func (s *taskService) Complete(ctx context.Context, id, actorID string, resolution *string) (*models.Task, error) {
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		if err := s.forceStatus(task, models.StatusDone, cs); err != nil {
			return err
		}
		task.CompletedAt = &cs.now
		if resolution != nil {
			task.Resolution = resolution
		}
		cs.emit(task.ID, models.ActionTaskCompleted, "marked this task as completed", nil)
		return nil
	})
}

func (s *taskService) Reopen(ctx context.Context, id, actorID string) (*models.Task, error) {
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		if err := s.forceStatus(task, models.StatusTodo, cs); err != nil {
			return err
		}
		task.Resolution = nil
		cs.emit(task.ID, models.ActionTaskReopened, "reopened this task", nil)
		return nil
	})
}

func (s *taskService) Cancel(ctx context.Context, id, actorID string, reason *string) (*models.Task, error) {
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if err := requireStanding(task, actorID); err != nil {
			return err
		}
		if err := s.forceStatus(task, models.StatusCancelled, cs); err != nil {
			return err
		}
		content := "cancelled this task"
		if reason != nil && strings.TrimSpace(*reason) != "" {
			task.Resolution = reason
			content = *reason
		}
		cs.emit(task.ID, models.ActionTaskCancelled, content, nil)
		return nil
	})
}

func (s *taskService) AddTag(ctx context.Context, id, tag string) (*models.Task, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, invalidf("tag must not be empty")
	}
	return s.mutate(ctx, id, "", func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if task.HasTag(tag) {
			return nil
		}
		task.Tags = append(task.Tags, tag)
		cs.touch()
		return nil
	})
}

func (s *taskService) RemoveTag(ctx context.Context, id, tag string) (*models.Task, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, invalidf("tag must not be empty")
	}
	return s.mutate(ctx, id, "", func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if !task.HasTag(tag) {
			return nil
		}
		kept := make([]string, 0, len(task.Tags)-1)
		for _, t := range task.Tags {
			if t != tag {
				kept = append(kept, t)
			}
		}
		task.Tags = kept
		cs.touch()
		return nil
	})
}

func (s *taskService) Copy(ctx context.Context, id string, targetProjectID *string, actorID string) (*models.Task, error) {
	var created *models.Task
	var comments []*models.Comment
	err := withNumberingRetry(ctx, func() error {
		return s.store.InTx(ctx, func(st repositories.Store) error {
			original, err := st.Tasks().FindByID(ctx, id)
			if err != nil {
				return translate(err, "task", id)
			}
			projectID := original.ProjectID
			if targetProjectID != nil && *targetProjectID != "" {
				projectID = *targetProjectID
			}
			project, err := activeProject(ctx, st, projectID)
			if err != nil {
				return err
			}
			n, err := allocateNumber(ctx, st, project.ID)
			if err != nil {
				return err
			}

			src := original.Clone()
			now := s.now()
			task := &models.Task{
				ID:             s.newID(),
				ProjectID:      project.ID,
				ProjectKey:     project.Key,
				TaskNumber:     n,
				Type:           src.Type,
				Title:          src.Title + " (Copy)",
				Description:    src.Description,
				Status:         models.StatusTodo,
				Priority:       src.Priority,
				CreatorID:      actorID,
				EstimatedHours: src.EstimatedHours,
				Tags:           src.Tags,
				Labels:         orEmpty(src.Labels),
				Metadata:       map[string]any{"copiedFrom": original.ID},
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if err := st.Tasks().Store(ctx, task); err != nil {
				return err
			}
			cs := s.newChangeSet(actorID)
			cs.emit(task.ID, models.ActionTaskCreated,
				fmt.Sprintf("created this task as a copy of %s", original.Key()),
				map[string]any{"copiedFrom": original.ID})
			if err := cs.flushComments(ctx, st); err != nil {
				return err
			}
			created, comments = task, cs.comments
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, comments)
	return created, nil
}

func (s *taskService) Move(ctx context.Context, id, targetProjectID, actorID string) (*models.Task, error) {
	if strings.TrimSpace(targetProjectID) == "" {
		return nil, invalidf("target project id is required")
	}
	var moved *models.Task
	err := withNumberingRetry(ctx, func() error {
		t, err := s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
			if err := requireCreator(task, actorID, "move"); err != nil {
				return err
			}
			if task.ProjectID == targetProjectID {
				return invalidf("task %s already belongs to project %s", task.ID, targetProjectID)
			}
			project, err := activeProject(ctx, st, targetProjectID)
			if err != nil {
				return err
			}
			n, err := allocateNumber(ctx, st, project.ID)
			if err != nil {
				return err
			}
			fromKey := task.Key()
			task.ProjectID = project.ID
			task.ProjectKey = project.Key
			task.TaskNumber = n
			cs.touch()
			cs.emit(task.ID, models.ActionTaskMoved,
				fmt.Sprintf("moved this task from %s to %s", fromKey, task.Key()),
				map[string]any{"from": fromKey, "to": task.Key()})
			return nil
		})
		moved = t
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

func (s *taskService) UpdateHours(ctx context.Context, id, actorID string, actualHours float64) (*models.Task, error) {
	if err := validateHours("actual_hours", &actualHours); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, actorID, func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error {
		if !task.IsAssignee(actorID) {
			return deniedf("only the assignee of task %s can log hours", task.ID)
		}
		task.ActualHours = &actualHours
		cs.touch()
		return nil
	})
}

// BatchSetStatus applies SetStatus to every task on its own. One task failing
// does not stop the others.
func (s *taskService) BatchSetStatus(ctx context.Context, ids []string, actorID string, to models.TaskStatus) (*models.BatchResult, error) {
	if !to.Valid() {
		return nil, invalidf("unknown status %q", to)
	}
	ids, err := batchIDs(ids)
	if err != nil {
		return nil, err
	}
	return runBatch(ids, func(id string) error {
		_, err := s.SetStatus(ctx, id, actorID, to)
		return err
	}), nil
}

// BatchDelete soft-deletes the tasks the actor created and reports the rest
// as failures. It is denied outright when none of them could be deleted.
func (s *taskService) BatchDelete(ctx context.Context, ids []string, actorID string) (*models.BatchResult, error) {
	ids, err := batchIDs(ids)
	if err != nil {
		return nil, err
	}
	res := runBatch(ids, func(id string) error { return s.Delete(ctx, id, actorID) })
	if len(res.Succeeded) == 0 {
		return res, deniedf("user %s can delete none of the %d tasks", actorID, len(ids))
	}
	return res, nil
}

func (s *taskService) Overdue(ctx context.Context, projectID, assigneeID *string) ([]models.Task, error) {
	if projectID != nil {
		if _, err := s.store.Projects().FindByID(ctx, *projectID); err != nil {
			return nil, translate(err, "project", *projectID)
		}
	}
	today := startOfDay(s.now())
	tasks, _, err := s.store.Tasks().FindAll(ctx, models.TaskFilter{
		ProjectID:     projectID,
		AssigneeID:    assigneeID,
		OverdueBefore: &today,
		SortBy:        "due_date",
		SortDirection: "asc",
	})
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	return tasks, nil
}

func (s *taskService) Statistics(ctx context.Context, projectID string) (*models.TaskStatistics, error) {
	if _, err := s.store.Projects().FindByID(ctx, projectID); err != nil {
		return nil, translate(err, "project", projectID)
	}
	tasks, _, err := s.store.Tasks().FindAll(ctx, models.TaskFilter{ProjectID: &projectID})
	if err != nil {
		return nil, err
	}
	return tally(tasks, startOfDay(s.now())), nil
}

// UserStatistics counts the tasks currently assigned to userID across projects.
func (s *taskService) UserStatistics(ctx context.Context, userID string) (*models.TaskStatistics, error) {
	if _, err := s.store.Users().GetByID(ctx, userID); err != nil {
		return nil, translate(err, "user", userID)
	}
	tasks, _, err := s.store.Tasks().FindAll(ctx, models.TaskFilter{AssigneeID: &userID})
	if err != nil {
		return nil, err
	}
	return tally(tasks, startOfDay(s.now())), nil
}

func tally(tasks []models.Task, today time.Time) *models.TaskStatistics {
	stats := &models.TaskStatistics{
		TotalTasks: len(tasks),
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
		ByType:     map[string]int{},
		ByAssignee: map[string]int{},
	}
	for _, t := range tasks {
		switch t.Status {
		case models.StatusTodo:
			stats.TodoTasks++
		case models.StatusInProgress:
			stats.InProgressTasks++
		case models.StatusDone:
			stats.DoneTasks++
		case models.StatusCancelled:
			stats.CancelledTasks++
		}
		open := t.Status != models.StatusDone && t.Status != models.StatusCancelled
		if open && t.DueDate != nil && t.DueDate.Before(today) {
			stats.OverdueTasks++
		}
		stats.ByStatus[string(t.Status)]++
		stats.ByPriority[string(t.Priority)]++
		stats.ByType[string(t.Type)]++
		if t.AssigneeID != nil {
			stats.ByAssignee[*t.AssigneeID]++
		}
		if t.EstimatedHours != nil {
			stats.TotalEstimatedHours += *t.EstimatedHours
		}
		if t.ActualHours != nil {
			stats.TotalActualHours += *t.ActualHours
		}
	}
	return stats
}

func startOfDay(t time.Time) time.Time {
	return t.Truncate(24 * time.Hour)
}

func batchIDs(ids []string) ([]string, error) {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, invalidf("task ids are required")
	}
	if len(out) > maxBatchSize {
		return nil, invalidf("at most %d tasks per batch", maxBatchSize)
	}
	return out, nil
}

func runBatch(ids []string, fn func(id string) error) *models.BatchResult {
	res := &models.BatchResult{Succeeded: []string{}, Failed: []models.BatchFailure{}}
	for _, id := range ids {
		if err := fn(id); err != nil {
			res.Failed = append(res.Failed, models.BatchFailure{TaskID: id, Error: err.Error()})
			continue
		}
		res.Succeeded = append(res.Succeeded, id)
	}
	return res
}

// ---- lifecycle helpers ----

type mutation func(ctx context.Context, st repositories.Store, task *models.Task, cs *changeSet) error

// mutate runs fetch, mutate, persist and comment insertion in one transaction.
// The task row stays locked until commit.
func (s *taskService) mutate(ctx context.Context, id, actorID string, fn mutation) (*models.Task, error) {
	var (
		out *models.Task
		cs  *changeSet
	)
	err := s.store.InTx(ctx, func(st repositories.Store) error {
		task, err := st.Tasks().FindByIDForUpdate(ctx, id)
		if err != nil {
			return translate(err, "task", id)
		}
		cs = s.newChangeSet(actorID)
		if err := fn(ctx, st, task, cs); err != nil {
			return err
		}
		if cs.dirty {
			task.UpdatedAt = cs.now
			if err := st.Tasks().Update(ctx, task); err != nil {
				return translate(err, "task", id)
			}
		}
		if err := cs.flushComments(ctx, st); err != nil {
			return err
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, cs.comments)
	return out, nil
}

// changeStatus applies a status change coming from updateTask or setStatus and
// records it. It reports whether the status actually changed.
func (s *taskService) changeStatus(task *models.Task, to models.TaskStatus, cs *changeSet) (bool, error) {
	if !to.Valid() {
		return false, invalidf("unknown status %q", to)
	}
	from := task.Status
	if from == to {
		return false, nil
	}
	if !s.policy.Allow(from, to) {
		return false, invalidf("illegal status transition from %s to %s", from, to)
	}
	applyStatus(task, to, cs.now)
	cs.touch()
	cs.emit(task.ID, models.ActionStatusChanged,
		fmt.Sprintf("changed status from %s to %s", from, to),
		map[string]any{"from": string(from), "to": string(to)})
	return true, nil
}

// forceStatus is used by complete, reopen and cancel, which emit their own comment.
func (s *taskService) forceStatus(task *models.Task, to models.TaskStatus, cs *changeSet) error {
	if !s.policy.Allow(task.Status, to) {
		return invalidf("illegal status transition from %s to %s", task.Status, to)
	}
	applyStatus(task, to, cs.now)
	cs.touch()
	return nil
}

func (s *taskService) changeAssignee(ctx context.Context, st repositories.Store, task *models.Task, assigneeID string, cs *changeSet) error {
	if assigneeID == "" {
		if task.AssigneeID == nil {
			return nil
		}
		previous := *task.AssigneeID
		task.AssigneeID = nil
		cs.emit(task.ID, models.ActionAssigneeChanged, "unassigned this task",
			map[string]any{"from_id": previous})
		return nil
	}
	if task.IsAssignee(assigneeID) {
		return nil
	}
	assignee, err := activeUser(ctx, st, assigneeID)
	if err != nil {
		return err
	}
	task.AssigneeID = &assignee.ID
	cs.emit(task.ID, models.ActionAssigneeChanged,
		fmt.Sprintf("assigned this task to %s", assignee.DisplayName()),
		map[string]any{"assignee": assignee.DisplayName(), "assignee_id": assignee.ID})
	return nil
}

// applyStatus sets the status and keeps completed_at/started_at consistent with it.
func applyStatus(task *models.Task, to models.TaskStatus, now time.Time) {
	task.Status = to
	if to == models.StatusDone {
		if task.CompletedAt == nil {
			task.CompletedAt = &now
		}
	} else {
		task.CompletedAt = nil
	}
	if to == models.StatusInProgress && task.StartedAt == nil {
		task.StartedAt = &now
	}
}

func (s *taskService) publish(ctx context.Context, comments []*models.Comment) {
	if s.publisher == nil || len(comments) == 0 {
		return
	}
	s.publisher.Publish(ctx, activityEntries(ctx, s.store, comments))
}

// changeSet collects what one operation did to a task.
type changeSet struct {
	actorID  string
	now      time.Time
	newID    func() string
	dirty    bool
	comments []*models.Comment
}

func (s *taskService) newChangeSet(actorID string) *changeSet {
	return &changeSet{actorID: actorID, now: s.now(), newID: s.newID}
}

func (cs *changeSet) touch() { cs.dirty = true }

func (cs *changeSet) emit(taskID string, action models.SystemAction, content string, metadata map[string]any) {
	a := action
	cs.comments = append(cs.comments, &models.Comment{
		ID:           cs.newID(),
		TaskID:       taskID,
		UserID:       cs.actorID,
		Content:      content,
		IsSystem:     true,
		SystemAction: &a,
		Metadata:     metadata,
		// keeps newest-first ordering stable for comments of one operation
		CreatedAt: cs.now.Add(time.Duration(len(cs.comments)) * time.Microsecond),
	})
}

func (cs *changeSet) flushComments(ctx context.Context, st repositories.Store) error {
	for _, c := range cs.comments {
		if err := st.Comments().Create(ctx, c); err != nil {
			return fmt.Errorf("insert %s comment: %w", *c.SystemAction, err)
		}
	}
	return nil
}

// ---- permission & validation ----

func requireStanding(task *models.Task, actorID string) error {
	if actorID != "" && (task.CreatorID == actorID || task.IsAssignee(actorID)) {
		return nil
	}
	return deniedf("user %s is neither creator nor assignee of task %s", actorID, task.ID)
}

func requireCreator(task *models.Task, actorID, action string) error {
	if actorID != "" && task.CreatorID == actorID {
		return nil
	}
	return deniedf("only the creator of task %s can %s it", task.ID, action)
}

func activeProject(ctx context.Context, st repositories.Store, id string) (*models.Project, error) {
	project, err := st.Projects().FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "project", id)
	}
	if project.Status != models.ProjectActive {
		return nil, fmt.Errorf("%w: project %s is %s", ErrNotFound, id, project.Status)
	}
	return project, nil
}

func activeUser(ctx context.Context, st repositories.Store, id string) (*models.User, error) {
	user, err := st.Users().GetByID(ctx, id)
	if err != nil {
		return nil, translate(err, "user", id)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: user %s is disabled", ErrNotFound, id)
	}
	return user, nil
}

func userName(ctx context.Context, st repositories.Store, id string) string {
	user, err := st.Users().GetByID(ctx, id)
	if err != nil {
		return id
	}
	return user.DisplayName()
}

func validateCreate(in models.CreateTaskInput) error {
	if strings.TrimSpace(in.ProjectID) == "" {
		return invalidf("project id is required")
	}
	if err := validateTitle(in.Title); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return invalidf("unknown type %q", in.Type)
	}
	if !in.Priority.Valid() {
		return invalidf("unknown priority %q", in.Priority)
	}
	return validateHours("estimated_hours", in.EstimatedHours)
}

func validateUpdate(upd models.TaskUpdate) error {
	if upd.Title != nil {
		if err := validateTitle(*upd.Title); err != nil {
			return err
		}
	}
	if upd.Type != nil && !upd.Type.Valid() {
		return invalidf("unknown type %q", *upd.Type)
	}
	if upd.Status != nil && !upd.Status.Valid() {
		return invalidf("unknown status %q", *upd.Status)
	}
	if upd.Priority != nil && !upd.Priority.Valid() {
		return invalidf("unknown priority %q", *upd.Priority)
	}
	if err := validateHours("estimated_hours", upd.EstimatedHours); err != nil {
		return err
	}
	return validateHours("actual_hours", upd.ActualHours)
}

func validateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return invalidf("title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return invalidf("title exceeds %d characters", maxTitleLength)
	}
	return nil
}

func validateHours(field string, h *float64) error {
	if h == nil {
		return nil
	}
	if math.IsNaN(*h) || math.IsInf(*h, 0) || *h < 0 {
		return invalidf("%s must be a non-negative number", field)
	}
	return nil
}

// dedupeTags trims tags and drops blanks and repeats, keeping first-seen order.
func dedupeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
