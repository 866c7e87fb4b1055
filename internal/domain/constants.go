package domain

// Task status constants, as stored in the result backend
const (
	TaskStatusPending = "PENDING"
	TaskStatusStarted = "STARTED"
	TaskStatusRetry   = "RETRY"
	TaskStatusSuccess = "SUCCESS"
	TaskStatusFailure = "FAILURE"
	TaskStatusRevoked = "REVOKED"
)

// IsTerminalStatus reports whether no further state change will follow status
func IsTerminalStatus(status string) bool {
	switch status {
	case TaskStatusSuccess, TaskStatusFailure, TaskStatusRevoked:
		return true
	default:
		return false
	}
}
