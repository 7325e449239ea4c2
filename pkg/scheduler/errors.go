package scheduler

import "fmt"

// SchedulerJobError wraps a failure that aborted a whole scheduled run,
// as opposed to a single connection failing inside the batch.
type SchedulerJobError struct {
	JobID   string
	JobName string
	Err     error
}

func (e *SchedulerJobError) Error() string {
	return fmt.Sprintf("scheduled backup %s (%s) failed: %v", e.JobName, e.JobID, e.Err)
}

func (e *SchedulerJobError) Unwrap() error { return e.Err }
