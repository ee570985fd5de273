package contracts

import "time"

// TaskEvent describes a task mutation. It is sent to the outbound
// notification sinks after a CRUD change or a webhook reconciliation.
type TaskEvent struct {
	Event       string     `json:"event"`
	TaskID      string     `json:"task_id"`
	OwnerID     string     `json:"owner_id"`
	OwnerEmail  string     `json:"owner_email"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	Label       string     `json:"label,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
	ExternalID  string     `json:"external_id,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

const (
	EventTaskCreated = "taskCreate"
	EventTaskUpdated = "taskUpdate"
	EventTaskDeleted = "taskDelete"
	EventTaskSynced  = "taskSync"
)
