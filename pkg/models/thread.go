package models

import "time"

// ThreadStatus is the lifecycle state of a conversation thread.
type ThreadStatus string

const (
	ThreadOpen   ThreadStatus = "open"
	ThreadClosed ThreadStatus = "closed"
)

// Thread is a conversation container owned by one user. Threads are created
// on the first message and never hard-deleted during normal operation.
type Thread struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	Status         ThreadStatus `json:"status"`
	LastActivityAt time.Time    `json:"last_activity_at"`
	CreatedAt      time.Time    `json:"created_at"`
}
