package ir

import "time"

// Status is the lifecycle state of a resource as recorded in the state store.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusApplying   Status = "Applying"
	StatusApplied    Status = "Applied"
	StatusFailed     Status = "Failed"
	StatusDestroying Status = "Destroying"
	StatusDestroyed  Status = "Destroyed"
)

// ResourceState is the durable per-resource record. The execution engine is
// the only writer; every transition is persisted before the next step runs.
type ResourceState struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	LastError string    `json:"lastError,omitempty"`
	Attempts  int       `json:"attempts"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy so report snapshots stay stable after further writes.
func (s *ResourceState) Clone() *ResourceState {
	c := *s
	return &c
}
