package models

import "time"

const (
	ProjectActive   = "active"
	ProjectArchived = "archived"
)

// Project is a named container of tasks, identified by a short uppercase key.
type Project struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	CreatorID string     `json:"creator_id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"-"`
}
