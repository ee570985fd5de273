package tasks

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTaskNotFound        = errors.New("task not found")
	ErrDuplicateExternalID = errors.New("task with this external id already exists")
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusDone       Status = "done"
)

type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
)

// ValidStatus reports whether s is one of the closed status values.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone:
		return true
	default:
		return false
	}
}

// ValidPriority reports whether p is one of the closed priority values.
func ValidPriority(p Priority) bool {
	switch p {
	case PriorityP1, PriorityP2, PriorityP3:
		return true
	default:
		return false
	}
}

// Task is the local mirror of a unit of work. ExternalID links it to the
// upstream board card once one has been sighted; tasks created through the
// CRUD API start with an empty ExternalID.
type Task struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    Priority   `json:"priority"`
	Label       string     `json:"label,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store is the persistence boundary for tasks. It must enforce uniqueness of
// (owner_id, external_id) for non-empty external ids; Create returns
// ErrDuplicateExternalID when that invariant would be violated.
type Store interface {
	EnsureSchema(ctx context.Context) error
	FindByID(ctx context.Context, taskID string) (Task, error)
	FindByExternalID(ctx context.Context, ownerID, externalID string) (Task, error)
	// FindLatestByTitle returns the most recently updated task with the given
	// title that is not yet linked to an upstream card. Multiple tasks may
	// share a title; recency wins. Tasks with an external id are never
	// candidates: their card link is authoritative.
	FindLatestByTitle(ctx context.Context, ownerID, title string) (Task, error)
	ListForOwner(ctx context.Context, ownerID string, limit int) ([]Task, error)
	Create(ctx context.Context, task Task) error
	Update(ctx context.Context, task Task) error
	Delete(ctx context.Context, ownerID, taskID string) error
}
