package taskqueue

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a task-queue entry. pending -> processing
// is the only claim transition; processed and failed are terminal and set
// only by the executor.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Kind identifies a registered task handler. Kinds are registered explicitly
// at startup; there is no lookup by code path.
type Kind string

// Entry is one durable unit of remote work.
type Entry struct {
	ID             int64           `json:"id"`
	IntegrationID  string          `json:"integration_id"`
	TaskName       Kind            `json:"task_name"`
	Args           json.RawMessage `json:"args"`   // JSON array
	Kwargs         json.RawMessage `json:"kwargs"` // JSON object
	RemoteRequests int             `json:"number_of_remote_requests"`
	Priority       int             `json:"priority"`
	Status         Status          `json:"status"`
	RunAfter       time.Time       `json:"run_after"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	ErrorTraceback string          `json:"error_traceback,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ClaimedAt      *time.Time      `json:"claimed_at,omitempty"`
	ProcessedAt    *time.Time      `json:"processed_at,omitempty"`
}

// NewEntry describes a task to enqueue. Args and Kwargs must be
// JSON-serializable; duplicates are acceptable under at-least-once
// semantics so Enqueue is not required to be idempotent.
type NewEntry struct {
	IntegrationID  string
	TaskName       Kind
	Args           any
	Kwargs         any
	RemoteRequests int
	Priority       int
	RunAfter       time.Time // zero means eligible immediately
}

// Dispatch is the NSQ message carrying a claimed entry to a worker. The
// worker reloads the entry from the table, which stays the source of truth.
type Dispatch struct {
	EntryID      int64             `json:"entry_id"`
	TaskName     Kind              `json:"task_name"`
	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}
