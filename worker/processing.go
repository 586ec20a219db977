package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/data"
	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/tasks"
	"lssvm.dev/trainer/types"
	"lssvm.dev/trainer/utils"
)

// Message asks one rank to take part in a training run. A run of world_size
// ranks is started by sending world_size messages with the same run_id and
// attempt. Config, when present, takes precedence over ConfigName.
type Message struct {
	RunID      string             `json:"run_id"`
	Rank       int                `json:"rank"`
	WorldSize  int                `json:"world_size"`
	Attempt    int                `json:"attempt"`
	DatasetKey string             `json:"dataset_key"`
	ConfigName string             `json:"config_name,omitempty"`
	Config     *types.TrainConfig `json:"config,omitempty"`
	Sender     string             `json:"sender"`
}

// Result is published once a rank is done with a message.
type Result struct {
	RunID        string           `json:"run_id"`
	Rank         int              `json:"rank"`
	Attempt      int              `json:"attempt"`
	Status       tasks.TaskStatus `json:"status"`
	ModelFileKey string           `json:"model_file_key,omitempty"`
	Iterations   int              `json:"iterations,omitempty"`
	Residual     float64          `json:"residual,omitempty"`
	Converged    bool             `json:"converged,omitempty"`
	Sender       string           `json:"sender"`
}

// TrainFunc trains on ds as one rank of group.
type TrainFunc func(ctx context.Context, cfg types.TrainConfig, ds *data.Dataset, group comm.Communicator) (*svm.Model, error)

// Train is the TrainFunc used in production.
func Train(ctx context.Context, cfg types.TrainConfig, ds *data.Dataset, group comm.Communicator) (*svm.Model, error) {
	param, err := cfg.Parameter(ds.NumFeatures)
	if err != nil {
		return nil, err
	}
	trainer, err := svm.NewTrainer(param, cfg.Options())
	if err != nil {
		return nil, err
	}
	return trainer.Train(ctx, ds, group)
}

var errInvalidMessage = errors.New("invalid training message")

type Task struct {
	ctx        context.Context
	delivery   *amqp.Delivery
	runTask    *tasks.RunTask
	message    *Message
	config     types.TrainConfig
	status     tasks.TaskStatus
	model      *svm.Model
	taskLogger *zerolog.Logger
}

func (worker *Worker) processMessage(delivery *amqp.Delivery) {
	task, err := worker.createTask(context.Background(), delivery)
	rejectLogger := worker.workerLogger.With().Str("message_id", delivery.MessageId).Logger()
	if err != nil {
		worker.workerLogger.Err(err).
			Str("message_id", delivery.MessageId).
			Str("body", string(delivery.Body)).
			Msg("Failed to create task for delivery")
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	if err = worker.processTask(task); err != nil {
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	if err = worker.rmq.pingResults(task, task.result()); err != nil {
		task.taskLogger.Err(err).Msg("Got error while sending message to results queue")
		worker.rmq.rejectDelivery(delivery, &rejectLogger)
		return
	}
	if err = worker.rmq.acknowledgeDelivery(delivery); err != nil {
		task.taskLogger.Err(err).Msg("Failed to acknowledge delivery")
	}
	task.taskLogger.Info().Msg("Finished processing RMQ message")
}

func (worker *Worker) createTask(ctx context.Context, delivery *amqp.Delivery) (*Task, error) {
	var message Message
	err := json.Unmarshal(delivery.Body, &message)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal message, got error %w", err)
	}
	if err = validateMessage(&message); err != nil {
		return nil, err
	}
	config, err := worker.resolveConfig(&message)
	if err != nil {
		return nil, err
	}
	runTask, err := worker.redis.getRunTask(ctx, message.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to query run task for message, got error %w", err)
	}
	taskLogger := worker.workerLogger.With().
		Str("run_id", message.RunID).
		Int("rank", message.Rank).
		Int("world_size", message.WorldSize).
		Int("attempt", message.Attempt).
		Logger()
	return &Task{
		ctx:        ctx,
		delivery:   delivery,
		runTask:    runTask,
		message:    &message,
		config:     config,
		taskLogger: &taskLogger,
	}, nil
}

func validateMessage(message *Message) error {
	if message.RunID == "" {
		return fmt.Errorf("%w: run_id is empty", errInvalidMessage)
	}
	if message.WorldSize < 1 || message.Rank < 0 || message.Rank >= message.WorldSize {
		return fmt.Errorf("%w: rank %d of world_size %d", errInvalidMessage, message.Rank, message.WorldSize)
	}
	if message.DatasetKey == "" {
		return fmt.Errorf("%w: dataset_key is empty", errInvalidMessage)
	}
	if message.Attempt < 1 {
		message.Attempt = 1
	}
	return nil
}

func (worker *Worker) resolveConfig(message *Message) (types.TrainConfig, error) {
	if message.Config != nil {
		if err := message.Config.Validate(); err != nil {
			return types.TrainConfig{}, fmt.Errorf("%w: %w", errInvalidMessage, err)
		}
		return *message.Config, nil
	}
	if message.ConfigName == "" {
		return types.DefaultTrainConfig(), nil
	}
	config, ok := worker.configs[message.ConfigName]
	if !ok {
		return types.TrainConfig{}, fmt.Errorf("%w: unknown configuration %q", errInvalidMessage, message.ConfigName)
	}
	return config, nil
}

func (worker *Worker) processTask(task *Task) error {
	shouldPerform, err := worker.shouldPerformTask(task)
	if err != nil {
		task.taskLogger.Err(err).
			Msg("Got error while trying to decide whether to run task")
		return err
	}
	if !shouldPerform {
		return nil
	}
	if err = worker.redis.onTaskStarted(task); err != nil {
		task.taskLogger.Err(err).Msg("Failed to update run task")
		return fmt.Errorf("failed to update run task: %w", err)
	}
	if err = worker.runTraining(task); err != nil {
		task.taskLogger.Err(err).Msg("Got error while training")
		task.status = tasks.TaskStatusFailed
		if err = worker.redis.onTaskFailedWithError(task, err); err != nil {
			return err
		}
		return nil
	}
	task.taskLogger.Info().Msg("Training finished, marking rank as complete")
	task.status = tasks.TaskStatusCompletedSuccess
	if err = worker.redis.onTaskComplete(task); err != nil {
		task.taskLogger.Err(err).Msg("Got error while trying to mark task as complete")
		return err
	}
	return nil
}

func (worker *Worker) runTraining(task *Task) (err error) {
	defer utils.RecoverWithError(&err)
	task.taskLogger.Info().Str("config", task.config.Name).Msg("Processing message from RMQ")
	raw, err := worker.s3.getDataset(task)
	if err != nil {
		task.taskLogger.Err(err).Caller().Msg("Could not fetch data set from s3")
		return fmt.Errorf("failed fetch data from s3: %w", err)
	}
	ds, err := data.ParseLIBSVM(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse data set %s: %w", task.message.DatasetKey, err)
	}
	group, err := worker.redis.joinGroup(task)
	if err != nil {
		return fmt.Errorf("failed to join process group: %w", err)
	}
	defer group.Close()

	model, err := worker.train(task.ctx, task.config, ds, group)
	if err != nil {
		return err
	}
	task.model = model
	if task.message.Rank != comm.Root {
		return nil
	}
	var buf bytes.Buffer
	if _, err = model.WriteTo(&buf); err != nil {
		return err
	}
	task.taskLogger.Info().Msg("Saving model to s3")
	if err = worker.s3.saveModel(task, buf.Bytes()); err != nil {
		task.taskLogger.Err(err).Msg("Got error while trying to save model")
		return err
	}
	return nil
}

func (worker *Worker) shouldPerformTask(task *Task) (bool, error) {
	info := task.runTask.Training
	taskLogger := task.taskLogger

	if info.Status.Complete() {
		taskLogger.Info().Msg("Run is already done. (might indicate issue acking message with RMQ). Sending result.")
		task.status = info.Status
		return false, nil
	}
	if task.runTask.UserCanceled {
		taskLogger.Info().Msg("Run was canceled, no need to train. Sending result.")
		task.status = tasks.TaskStatusCanceled
		return false, worker.redis.onTaskCancelled(task)
	}
	if task.message.Attempt > worker.config.TaskMaxRetries {
		taskLogger.Info().Msg("Run has exceeded retries. Sending result.")
		task.status = tasks.TaskStatusCompletedFailure
		return false, worker.redis.onTaskExceededRetries(task, worker.config.TaskMaxRetries)
	}
	return true, nil
}

func (task *Task) result() Result {
	result := Result{
		RunID:   task.message.RunID,
		Rank:    task.message.Rank,
		Attempt: task.message.Attempt,
		Status:  task.status,
	}
	if task.model != nil {
		result.Iterations = task.model.Iterations
		result.Residual = task.model.Residual
		result.Converged = task.model.Converged
		if task.message.Rank == comm.Root && task.status == tasks.TaskStatusCompletedSuccess {
			result.ModelFileKey = getModelFileKey(task)
		}
	}
	return result
}
