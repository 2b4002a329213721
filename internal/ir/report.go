package ir

import "time"

// Outcome summarizes a whole plan run.
type Outcome string

const (
	OutcomeSuccess        Outcome = "Success"
	OutcomePartialFailure Outcome = "PartialFailure"
	OutcomeAborted        Outcome = "Aborted"
)

// ExecutionReport is the sole externally consumed output of a plan run.
type ExecutionReport struct {
	Outcome   Outcome          `json:"outcome"`
	Resources []*ResourceState `json:"resources"`
	// FailedID names the resource that halted an apply, if any.
	FailedID  string        `json:"failedId,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Failed returns the snapshots left in a failed status.
func (r *ExecutionReport) Failed() []*ResourceState {
	var out []*ResourceState
	for _, rs := range r.Resources {
		if rs.Status == StatusFailed {
			out = append(out, rs)
		}
	}
	return out
}
