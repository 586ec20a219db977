package worker

import (
	"fmt"
	"path"
	"time"
)

func getModelFileKey(task *Task) string {
	return path.Join(
		"models",
		task.message.RunID,
		fmt.Sprintf("attempt-%d", task.message.Attempt),
		"model.json",
	)
}

// getGroupID scopes the message lists of a process group to one attempt, so
// ranks of a retried run never read frames left over from a failed attempt.
func getGroupID(task *Task) string {
	return fmt.Sprintf("%s/%d", task.message.RunID, task.message.Attempt)
}

const RFC3339Micro = "2006-01-02T15:04:05.000000-07:00"

func getFormattedNow() *string {
	now := time.Now().UTC().Format(RFC3339Micro)
	return &now
}
