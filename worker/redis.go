package worker

import (
	"context"
	"fmt"
	"time"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/redis"
	"lssvm.dev/trainer/tasks"
)

type redisTransactions interface {
	getRunTask(ctx context.Context, runID string) (*tasks.RunTask, error)
	onTaskStarted(task *Task) error
	onTaskCancelled(task *Task, errorMessages ...string) error
	onTaskExceededRetries(task *Task, maxRetries int) error
	onTaskFailedWithError(task *Task, err error) error
	onTaskComplete(task *Task) error
	joinGroup(task *Task) (comm.Communicator, error)
	close()
}

type redisClientWrapper struct {
	tasksClient *tasks.Client
	commClient  *redis.Client
	commTimeout time.Duration
}

func (wrapper *redisClientWrapper) close() {
	wrapper.tasksClient.Close()
	_ = wrapper.commClient.Close()
}

func (wrapper *redisClientWrapper) getRunTask(ctx context.Context, runID string) (*tasks.RunTask, error) {
	return wrapper.tasksClient.Runs.Get(ctx, runID)
}

func (wrapper *redisClientWrapper) onTaskStarted(task *Task) error {
	return wrapper.update(task, func(runTask *tasks.RunTask) {
		info := &runTask.Training
		if task.message.Attempt > info.Attempts {
			info.Attempts = task.message.Attempt
			info.StartedAt = getFormattedNow()
			info.JoinedRanks = nil
			info.FinishedRanks = nil
		}
		info.Status = tasks.TaskStatusStarted
		info.CompletedAt = nil
		info.JoinedRanks = tasks.AddRank(info.JoinedRanks, task.message.Rank)
		runTask.WorldSize = task.message.WorldSize
	})
}

func (wrapper *redisClientWrapper) onTaskCancelled(task *Task, errorMessages ...string) error {
	return wrapper.update(task, func(runTask *tasks.RunTask) {
		info := &runTask.Training
		info.Status = tasks.TaskStatusCanceled
		info.CompletedAt = getFormattedNow()
		info.ErrorMessages = append(info.ErrorMessages, errorMessages...)
	})
}

func (wrapper *redisClientWrapper) onTaskExceededRetries(task *Task, maxRetries int) error {
	return wrapper.update(task, func(runTask *tasks.RunTask) {
		info := &runTask.Training
		info.Status = tasks.TaskStatusCompletedFailure
		info.CompletedAt = getFormattedNow()
		info.ErrorMessages = append(
			info.ErrorMessages,
			fmt.Sprintf(
				"Run has exceeded retries. (Attempt: %d, max retries: %d )",
				task.message.Attempt,
				maxRetries,
			),
		)
	})
}

func (wrapper *redisClientWrapper) onTaskFailedWithError(task *Task, err error) error {
	return wrapper.update(task, func(runTask *tasks.RunTask) {
		info := &runTask.Training
		info.Status = tasks.TaskStatusFailed
		info.CompletedAt = getFormattedNow()
		info.ErrorMessages = append(info.ErrorMessages, fmt.Sprintf("rank %d: %s", task.message.Rank, err))
	})
}

// onTaskComplete records the rank as finished. Only the root rank holds the
// model, so only it completes the run.
func (wrapper *redisClientWrapper) onTaskComplete(task *Task) error {
	return wrapper.update(task, func(runTask *tasks.RunTask) {
		info := &runTask.Training
		info.FinishedRanks = tasks.AddRank(info.FinishedRanks, task.message.Rank)
		if task.message.Rank != comm.Root || task.model == nil {
			return
		}
		if !info.Status.Complete() {
			info.Status = tasks.TaskStatusCompletedSuccess
		}
		info.CompletedAt = getFormattedNow()
		info.Iterations = task.model.Iterations
		info.Residual = task.model.Residual
		info.Converged = task.model.Converged
		info.ModelFileKey = getModelFileKey(task)
	})
}

func (wrapper *redisClientWrapper) joinGroup(task *Task) (comm.Communicator, error) {
	if task.message.WorldSize == 1 {
		return comm.Single(), nil
	}
	return comm.NewRedisGroup(
		wrapper.commClient,
		getGroupID(task),
		task.message.Rank,
		task.message.WorldSize,
		wrapper.commTimeout,
	)
}

func (wrapper *redisClientWrapper) update(task *Task, updateFunc func(runTask *tasks.RunTask)) error {
	return wrapper.tasksClient.Runs.Update(task.ctx, task.message.RunID, updateFunc)
}
