package constants

// TaskStatus is the canonical status of a submitted batch.
type TaskStatus string

// Stable values (store these exact strings).
const (
	TaskStatusPending    TaskStatus = "PENDING"    // accepted, no unit of work started yet
	TaskStatusProcessing TaskStatus = "PROCESSING" // at least one file picked up by a worker
	TaskStatusCompleted  TaskStatus = "COMPLETED"  // every file settled and results aggregated
	TaskStatusFailed     TaskStatus = "FAILED"     // coordinator-level fault
	TaskStatusCancelled  TaskStatus = "CANCELLED"  // cancelled by the client
)

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// FileState tracks a single source file inside a task.
type FileState string

const (
	FileStatePending   FileState = "PENDING"
	FileStateRunning   FileState = "RUNNING"
	FileStateSucceeded FileState = "SUCCEEDED"
	FileStateFailed    FileState = "FAILED"
	FileStateSkipped   FileState = "SKIPPED" // never started because the task was cancelled
)
