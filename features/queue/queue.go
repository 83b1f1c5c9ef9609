package queue

import "time"

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Item is one unit of pending embedding work. Items transition
// pending -> processing -> completed|failed; failed items stay in the
// table for audit and operator-driven replay.
type Item struct {
	ID           string     `json:"id"`
	EntityID     string     `json:"entity_id"`
	Payload      string     `json:"payload"`
	Priority     Priority   `json:"priority"`
	Status       Status     `json:"status"`
	AttemptCount int        `json:"attempt_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// DepthStat is one (status, priority) bucket of the queue depth report.
type DepthStat struct {
	Status   Status   `json:"status"`
	Priority Priority `json:"priority"`
	Count    int      `json:"count"`
}
