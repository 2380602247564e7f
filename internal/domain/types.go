package domain

import "time"

// Task states.
const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"
)

// TaskTypePublishPost is the task type carrying a deferred publication.
const TaskTypePublishPost = "post.publish"

type Task struct {
	ID                string
	Type              string
	Payload           []byte
	Priority          int
	Attempts          int
	MaxAttempts       int
	State             string
	RunAt             time.Time // earliest execution time
	VisibilityTimeout int       // seconds
	IdempotencyKey    *string
	LastError         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// QueueStats counts tasks per state.
type QueueStats map[string]int
