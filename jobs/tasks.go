package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPermissionsReseed inserts catalog permissions missing from the permissions table.
	TaskPermissionsReseed = "authz:permissions_reseed"
)

// PermissionsReseedPayload describes who asked for a reseed.
type PermissionsReseedPayload struct {
	RequestedBy string `json:"requested_by"`
}

// NewPermissionsReseedTask constructs an Asynq task.
func NewPermissionsReseedTask(payload PermissionsReseedPayload) (*asynq.Task, error) {
	if payload.RequestedBy == "" {
		payload.RequestedBy = "scheduler"
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPermissionsReseed, data, asynq.Queue(QueueDefault)), nil
}
