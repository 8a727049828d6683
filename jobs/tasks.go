// Package jobs hosts the asynq background workers for the authorization
// service.
package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskExpireTemporary deactivates TEMPORARY grants past their end time.
	TaskExpireTemporary = "authz:expire_temporary"
)

// NewExpireTemporaryTask constructs the expiry sweep task. The sweep takes
// no payload; it always operates on "now".
func NewExpireTemporaryTask() *asynq.Task {
	return asynq.NewTask(TaskExpireTemporary, nil)
}
