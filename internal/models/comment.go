package models

import "time"

// SystemAction tags an engine-generated comment.
type SystemAction string

const (
	ActionTaskCreated     SystemAction = "task_created"
	ActionStatusChanged   SystemAction = "status_changed"
	ActionAssigneeChanged SystemAction = "assignee_changed"
	ActionTaskCompleted   SystemAction = "task_completed"
	ActionTaskReopened    SystemAction = "task_reopened"
	ActionTaskCancelled   SystemAction = "task_cancelled"
	ActionTaskMoved       SystemAction = "task_moved"
)

// Comment is either a user comment or an immutable system audit record.
type Comment struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	UserID       string         `json:"user_id"`
	Content      string         `json:"content"`
	IsSystem     bool           `json:"is_system"`
	SystemAction *SystemAction  `json:"system_action,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	IsEdited     bool           `json:"is_edited"`
	EditedAt     *time.Time     `json:"edited_at,omitempty"`
	LikeCount    int            `json:"like_count"`
	CreatedAt    time.Time      `json:"created_at"`
	DeletedAt    *time.Time     `json:"-"`
}

// LikeState is the outcome of toggling a like on a comment.
type LikeState struct {
	CommentID string `json:"comment_id"`
	Liked     bool   `json:"liked"`
	LikeCount int    `json:"like_count"`
}

type Actor struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

// ActivityEntry is one row of a task's activity log.
type ActivityEntry struct {
	ID           string         `json:"id"`
	TaskID       string         `json:"task_id"`
	Type         string         `json:"type"`
	Content      string         `json:"content"`
	Actor        Actor          `json:"actor"`
	IsSystem     bool           `json:"is_system"`
	SystemAction *SystemAction  `json:"system_action,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	LikeCount    int            `json:"like_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

const ActivityTypeComment = "comment"
