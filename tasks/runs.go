package tasks

import (
	"context"
	"fmt"

	"lssvm.dev/trainer/redis"
)

const RunsDB redis.DB = 0

type TaskStatus string

const (
	TaskStatusSubmitted        TaskStatus = "submitted"
	TaskStatusStarted          TaskStatus = "started"
	TaskStatusFailed           TaskStatus = "failed"
	TaskStatusCompletedSuccess TaskStatus = "completed - success"
	TaskStatusCompletedFailure TaskStatus = "completed - failure"
	TaskStatusCanceled         TaskStatus = "canceled"
)

func (s TaskStatus) Complete() bool {
	return s == TaskStatusCompletedSuccess || s == TaskStatusCompletedFailure || s == TaskStatusCanceled
}

// RunTask is the shared status document of one distributed training run.
// Every rank of the run updates it.
type RunTask struct {
	RunID        string       `json:"run_id"`
	DatasetKey   string       `json:"dataset_key"`
	WorldSize    int          `json:"world_size"`
	UserCanceled bool         `json:"user_canceled"`
	Training     TrainingInfo `json:"training"`
}

type TrainingInfo struct {
	Status        TaskStatus `json:"status"`
	Attempts      int        `json:"attempts"`
	StartedAt     *string    `json:"started_at"`
	CompletedAt   *string    `json:"completed_at"`
	JoinedRanks   []int      `json:"joined_ranks"`
	FinishedRanks []int      `json:"finished_ranks"`
	Iterations    int        `json:"iterations"`
	Residual      float64    `json:"residual"`
	Converged     bool       `json:"converged"`
	ModelFileKey  string     `json:"model_file_key"`
	ErrorMessages []string   `json:"error_messages"`
}

// AddRank records rank in ranks once.
func AddRank(ranks []int, rank int) []int {
	for _, r := range ranks {
		if r == rank {
			return ranks
		}
	}
	return append(ranks, rank)
}

func RunKey(runID string) string {
	return fmt.Sprintf("run:%s", runID)
}

type RunTasks struct {
	client *redis.Client
}

func (tasks RunTasks) Get(ctx context.Context, runID string) (*RunTask, error) {
	var task RunTask
	err := tasks.client.GetDocument(ctx, RunKey(runID), &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (tasks RunTasks) Update(ctx context.Context, runID string, updateFunc func(task *RunTask)) error {
	var task RunTask
	return tasks.client.UpdateDocument(ctx, RunKey(runID), &task, func() {
		updateFunc(&task)
	})
}
