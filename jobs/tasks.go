// Package jobs runs the background maintenance work behind the logistics
// API: the nightly delivery status sweep, the orphaned attachment cleanup
// and idempotency key retention. Tasks are queued and scheduled via Asynq.
package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// QueueDefault is the default queue name for background jobs.
const QueueDefault = "default"

func newTask(taskType string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}
