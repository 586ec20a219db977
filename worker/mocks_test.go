package worker

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"lssvm.dev/trainer/comm"
	"lssvm.dev/trainer/data"
	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/tasks"
	"lssvm.dev/trainer/types"
)

const sampleDataset = `# two features
1 1:0 2:1
-1 1:1 2:0.5
1 1:2 2:2
-1 1:-1 2:0.5
-1 1:0.5 2:-1
1 1:3 2:1.5
`

type failingMethod struct {
	fail bool
}

type withValue struct {
	fail          bool
	returnedValue interface{}
}

type trainMock struct {
	config trainMockConfig
	calls  trainCall
	// trainedWith is the configuration of the last call.
	trainedWith types.TrainConfig
}

type trainMockConfig struct {
	fail bool
	// real runs the actual trainer instead of returning a fixed model.
	real bool
}

type trainCall struct {
	train bool
}

func (mock *trainMock) train(ctx context.Context, cfg types.TrainConfig, ds *data.Dataset, group comm.Communicator) (*svm.Model, error) {
	mock.calls.train = true
	mock.trainedWith = cfg
	if mock.config.fail {
		return nil, errors.New("mock: training diverged")
	}
	if mock.config.real {
		return Train(ctx, cfg, ds, group)
	}
	return &svm.Model{
		Param:      svm.Parameter{KernelType: svm.KernelTypeLinear, Gamma: 1, Cost: 1, Epsilon: 1e-3},
		Labels:     [2]float64{1, -1},
		Alpha:      []float64{0.5, -0.5},
		SV:         [][]float64{{0, 1}, {1, 0.5}},
		Iterations: 7,
		Residual:   1e-4,
		Converged:  true,
	}, nil
}

type redisMock struct {
	config redisMockConfig
	calls  redisMockCalls
}

type redisMockConfig struct {
	getRunTask            withValue
	onTaskCancelled       failingMethod
	onTaskStarted         failingMethod
	onTaskExceededRetries failingMethod
	onTaskFailedWithError failingMethod
	onTaskComplete        failingMethod
	joinGroup             failingMethod
}

type redisMockCalls struct {
	getRunTask            bool
	onTaskCancelled       bool
	onTaskStarted         bool
	onTaskExceededRetries bool
	onTaskFailedWithError bool
	onTaskComplete        bool
	joinGroup             bool
}

type rmqMock struct {
	config rmqMockConfig
	calls  rmqMockCalls
	result Result
}

type rmqMockConfig struct {
	pingResults         failingMethod
	acknowledgeDelivery failingMethod
}

type rmqMockCalls struct {
	pingResults         bool
	acknowledgeDelivery bool
	rejectDelivery      bool
}

type s3Mock struct {
	config s3MockConfig
	calls  s3MockCalls
	saved  []byte
}

type s3MockConfig struct {
	getDataset withValue
	saveModel  failingMethod
}

type s3MockCalls struct {
	getDataset bool
	saveModel  bool
}

func (mock *s3Mock) close() {}

func (mock *rmqMock) close() {}

func (mock *redisMock) close() {}

func (mock *redisMock) getRunTask(ctx context.Context, runID string) (*tasks.RunTask, error) {
	mock.calls.getRunTask = true
	if mock.config.getRunTask.fail {
		return nil, errors.New("failed to get run task")
	}
	switch value := mock.config.getRunTask.returnedValue.(type) {
	case tasks.RunTask:
		return &value, nil
	default:
		return &tasks.RunTask{RunID: runID}, nil
	}
}

func (mock *redisMock) onTaskStarted(task *Task) error {
	mock.calls.onTaskStarted = true
	if mock.config.onTaskStarted.fail {
		return errors.New("failed to update run task on start")
	}
	return nil
}

func (mock *redisMock) onTaskCancelled(task *Task, errorMessages ...string) error {
	mock.calls.onTaskCancelled = true
	if mock.config.onTaskCancelled.fail {
		return errors.New("failed to update run task on cancel")
	}
	return nil
}

func (mock *redisMock) onTaskExceededRetries(task *Task, maxRetries int) error {
	mock.calls.onTaskExceededRetries = true
	if mock.config.onTaskExceededRetries.fail {
		return errors.New("failed to update run task on exceeded retries")
	}
	return nil
}

func (mock *redisMock) onTaskFailedWithError(task *Task, err error) error {
	mock.calls.onTaskFailedWithError = true
	if mock.config.onTaskFailedWithError.fail {
		return errors.New("failed to update run task on fail with error")
	}
	return nil
}

func (mock *redisMock) onTaskComplete(task *Task) error {
	mock.calls.onTaskComplete = true
	if mock.config.onTaskComplete.fail {
		return errors.New("failed to update run task on complete")
	}
	return nil
}

func (mock *redisMock) joinGroup(task *Task) (comm.Communicator, error) {
	mock.calls.joinGroup = true
	if mock.config.joinGroup.fail {
		return nil, errors.New("failed to join group")
	}
	return comm.Single(), nil
}

func (mock *rmqMock) rejectDelivery(delivery *amqp.Delivery, workerLogger *zerolog.Logger) {
	mock.calls.rejectDelivery = true
}

func (mock *rmqMock) getDeliveriesCh() <-chan amqp.Delivery {
	return nil
}

func (mock *rmqMock) getReqChanErrorsCh() <-chan *amqp.Error {
	return nil
}

func (mock *rmqMock) getRespChanErrorsCh() <-chan *amqp.Error {
	return nil
}

func (mock *rmqMock) pingResults(task *Task, result Result) error {
	mock.calls.pingResults = true
	mock.result = result
	if mock.config.pingResults.fail {
		return errors.New("failed to ping results queue")
	}
	return nil
}

func (mock *rmqMock) acknowledgeDelivery(delivery *amqp.Delivery) error {
	mock.calls.acknowledgeDelivery = true
	if mock.config.acknowledgeDelivery.fail {
		return errors.New("failed to acknowledge delivery")
	}
	return nil
}

func (mock *s3Mock) getDataset(task *Task) ([]byte, error) {
	mock.calls.getDataset = true
	if mock.config.getDataset.fail {
		return nil, errors.New("mock: failed to load from s3")
	}
	switch value := mock.config.getDataset.returnedValue.(type) {
	case []byte:
		return value, nil
	default:
		return []byte(sampleDataset), nil
	}
}

func (mock *s3Mock) saveModel(task *Task, model []byte) error {
	mock.calls.saveModel = true
	if mock.config.saveModel.fail {
		return errors.New("failed to upload model")
	}
	mock.saved = append([]byte(nil), model...)
	return nil
}
