// internal/models/task.go
package models

import (
	"fmt"
	"time"
)

// TaskStatus defines the possible statuses for a task.
type TaskStatus string

const (
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone, StatusCancelled:
		return true
	}
	return false
}

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

type TaskType string

const (
	TypeBug         TaskType = "bug"
	TypeFeature     TaskType = "feature"
	TypeTask        TaskType = "task"
	TypeImprovement TaskType = "improvement"
)

func (t TaskType) Valid() bool {
	switch t {
	case TypeBug, TypeFeature, TypeTask, TypeImprovement:
		return true
	}
	return false
}

// Task represents the structure of a task in the system.
// ProjectKey is not stored on the row; repositories fill it from the project on reads.
type Task struct {
	ID              string         `json:"id"`
	ProjectID       string         `json:"project_id"`
	ProjectKey      string         `json:"project_key,omitempty"`
	TaskNumber      int            `json:"task_number"`
	Type            TaskType       `json:"type"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Status          TaskStatus     `json:"status"`
	Priority        TaskPriority   `json:"priority"`
	CreatorID       string         `json:"creator_id"`
	AssigneeID      *string        `json:"assignee_id"`
	DueDate         *time.Time     `json:"due_date,omitempty"`
	EstimatedHours  *float64       `json:"estimated_hours,omitempty"`
	ActualHours     *float64       `json:"actual_hours,omitempty"`
	Tags            []string       `json:"tags"`
	Labels          map[string]any `json:"labels"`
	Metadata        map[string]any `json:"metadata"`
	Resolution      *string        `json:"resolution"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
	AttachmentCount int            `json:"attachment_count"`
	CommentCount    int            `json:"comment_count"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       *time.Time     `json:"-"`
}

// Key returns the display identifier, e.g. "API-42".
func (t *Task) Key() string {
	return fmt.Sprintf("%s-%d", t.ProjectKey, t.TaskNumber)
}

// IsAssignee reports whether userID is the current assignee.
func (t *Task) IsAssignee(userID string) bool {
	return t.AssigneeID != nil && *t.AssigneeID == userID
}

// HasTag reports whether the tag is already on the task.
func (t *Task) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices, maps or pointers with t.
func (t *Task) Clone() *Task {
	c := *t
	c.AssigneeID = cloneString(t.AssigneeID)
	c.Resolution = cloneString(t.Resolution)
	c.DueDate = cloneTime(t.DueDate)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.DeletedAt = cloneTime(t.DeletedAt)
	c.EstimatedHours = cloneFloat(t.EstimatedHours)
	c.ActualHours = cloneFloat(t.ActualHours)
	if t.Tags != nil {
		c.Tags = append([]string{}, t.Tags...)
	}
	c.Labels = cloneMap(t.Labels)
	c.Metadata = cloneMap(t.Metadata)
	return &c
}

// CreateTaskInput carries the fields a caller may set when creating a task.
type CreateTaskInput struct {
	ProjectID      string
	Type           TaskType
	Title          string
	Description    string
	Priority       TaskPriority
	AssigneeID     *string
	DueDate        *time.Time
	EstimatedHours *float64
	Tags           []string
	Labels         map[string]any
}

// TaskUpdate is a partial update: nil fields are left untouched.
// An empty AssigneeID clears the assignee; ClearDueDate clears the due date.
type TaskUpdate struct {
	Title          *string
	Description    *string
	Type           *TaskType
	Status         *TaskStatus
	Priority       *TaskPriority
	AssigneeID     *string
	DueDate        *time.Time
	ClearDueDate   bool
	EstimatedHours *float64
	ActualHours    *float64
	Tags           []string
	Labels         map[string]any
	Metadata       map[string]any
	Resolution     *string
}

// TaskFilter defines the available parameters for filtering tasks.
type TaskFilter struct {
	ProjectID     *string
	AssigneeID    *string
	CreatorID     *string
	Status        *TaskStatus
	Priority      *TaskPriority
	Type          *TaskType
	Tag           *string
	Search        *string
	// OverdueBefore keeps open tasks due strictly before the given instant.
	OverdueBefore *time.Time
	SortBy        string
	SortDirection string
	Page          int
	PageSize      int // 0 means no paging
}

type TaskPage struct {
	Items      []Task `json:"items"`
	TotalCount int    `json:"total_count"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
}

// BatchResult reports a batch operation task by task.
type BatchResult struct {
	Succeeded []string       `json:"succeeded"`
	Failed    []BatchFailure `json:"failed"`
}

type BatchFailure struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

type TaskStatistics struct {
	TotalTasks          int            `json:"total_tasks"`
	TodoTasks           int            `json:"todo_tasks"`
	InProgressTasks     int            `json:"in_progress_tasks"`
	DoneTasks           int            `json:"done_tasks"`
	CancelledTasks      int            `json:"cancelled_tasks"`
	OverdueTasks        int            `json:"overdue_tasks"`
	ByStatus            map[string]int `json:"by_status"`
	ByPriority          map[string]int `json:"by_priority"`
	ByType              map[string]int `json:"by_type"`
	ByAssignee          map[string]int `json:"by_assignee"`
	TotalEstimatedHours float64        `json:"total_estimated_hours"`
	TotalActualHours    float64        `json:"total_actual_hours"`
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
