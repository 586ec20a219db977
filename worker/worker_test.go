package worker

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/streadway/amqp"

	"lssvm.dev/trainer/logger"
	"lssvm.dev/trainer/ml/svm"
	"lssvm.dev/trainer/tasks"
	"lssvm.dev/trainer/types"
)

const defaultBody = `{"run_id":"run-1","rank":0,"world_size":1,"attempt":1,"dataset_key":"datasets/small.libsvm"}`

type mockedClientsConfig struct {
	rmqMockConfig
	redisMockConfig
	s3MockConfig
	trainMockConfig
}

type mockedClients struct {
	redis *redisMock
	rmq   *rmqMock
	s3    *s3Mock
	train *trainMock
}

type methodsCalls struct {
	redis redisMockCalls
	rmq   rmqMockCalls
	s3    s3MockCalls
	train trainCall
}

func testConfiguration(t *testing.T, config mockedClientsConfig, expectedCalls methodsCalls) *mockedClients {
	return testConfigurationWithBody(t, defaultBody, config, expectedCalls)
}

func testConfigurationWithBody(t *testing.T, body string, config mockedClientsConfig, expectedCalls methodsCalls) *mockedClients {
	worker, mocks := configureWorker(config)
	worker.processMessage(&amqp.Delivery{
		MessageId: "message-1",
		Body:      []byte(body),
	})
	calls := methodsCalls{
		redis: mocks.redis.calls,
		rmq:   mocks.rmq.calls,
		s3:    mocks.s3.calls,
		train: mocks.train.calls,
	}
	if !reflect.DeepEqual(calls, expectedCalls) {
		t.Errorf("Got unexpected called methods set.\nExpected:\n%+v\nGot:\n%+v", expectedCalls, calls)
	}
	return mocks
}

func configureWorker(config mockedClientsConfig) (*Worker, *mockedClients) {
	redis := &redisMock{config: config.redisMockConfig}
	s3 := &s3Mock{config: config.s3MockConfig}
	rmq := &rmqMock{config: config.rmqMockConfig}
	train := &trainMock{config: config.trainMockConfig}

	workerLogger := logger.NewLogger("Test Worker")

	rbf := types.DefaultTrainConfig()
	rbf.Name = "rbf"
	rbf.Kernel = svm.KernelTypeRbf.String()

	return &Worker{
			config:       Config{TaskMaxRetries: 3, CommTimeoutSeconds: 5},
			redis:        redis,
			s3:           s3,
			rmq:          rmq,
			workerLogger: &workerLogger,
			configs:      map[string]types.TrainConfig{"rbf": rbf},
			train:        train.train,
		}, &mockedClients{
			redis: redis,
			rmq:   rmq,
			s3:    s3,
			train: train,
		}
}

var successfulCalls = methodsCalls{
	redis: redisMockCalls{
		getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskComplete: true,
	},
	rmq: rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
	s3: s3MockCalls{
		getDataset: true,
		saveModel:  true,
	},
	train: trainCall{true},
}

func TestWorker(t *testing.T) {
	t.Run("Successful", testSuccessfulTask)
	t.Run("Successful on non-root rank", testSuccessfulNonRootRank)
	t.Run("Successful with real trainer", testSuccessfulRealTraining)
	t.Run("Named configuration", testNamedConfiguration)
	t.Run("Inline configuration", testInlineConfiguration)
	t.Run("Unknown configuration", testUnknownConfiguration)
	t.Run("Invalid message", testInvalidMessage)
	t.Run("Failed to get Run task", testGetRunTaskFailed)
	t.Run("Already complete with success", testAlreadyCompletedSuccessfully)
	t.Run("Already complete with failure", testAlreadyCompletedWithFailure)
	t.Run("User cancelled", testUserCancelled)
	t.Run("Exceeded attempts", testExceededAttempts)
	t.Run("Failed to update task in onTaskStarted", testFailedToUpdateOnTaskStarted)
	t.Run("Failed to load data from S3", testFailedToFetchFromS3)
	t.Run("Malformed data set", testMalformedDataset)
	t.Run("Failed to join group", testFailedToJoinGroup)
	t.Run("Failed due to training error", testTrainingError)
	t.Run("Failed to update task in onTaskFailedWithError", testFailedToUpdateOnTaskFailedWithError)
	t.Run("Failed to update task in onTaskComplete", testFailedToUpdateOnTaskComplete)
	t.Run("Failed to save model to S3", testFailedToSaveToS3)
	t.Run("Failed to acknowledge delivery", testFailedAckDelivery)
	t.Run("Failed to ping results queue", testFailedPingResults)
}

func testSuccessfulTask(t *testing.T) {
	mocks := testConfiguration(t, mockedClientsConfig{}, successfulCalls)
	assert.Equal(t, Result{
		RunID:        "run-1",
		Rank:         0,
		Attempt:      1,
		Status:       tasks.TaskStatusCompletedSuccess,
		ModelFileKey: "models/run-1/attempt-1/model.json",
		Iterations:   7,
		Residual:     1e-4,
		Converged:    true,
	}, mocks.rmq.result)
	assert.Equal(t, types.DefaultTrainConfig(), mocks.train.trainedWith)
}

func testSuccessfulNonRootRank(t *testing.T) {
	mocks := testConfigurationWithBody(
		t,
		`{"run_id":"run-1","rank":1,"world_size":2,"attempt":2,"dataset_key":"datasets/small.libsvm"}`,
		mockedClientsConfig{},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskComplete: true,
			},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
			s3:    s3MockCalls{getDataset: true},
			train: trainCall{true},
		},
	)
	assert.Equal(t, tasks.TaskStatusCompletedSuccess, mocks.rmq.result.Status)
	assert.Empty(t, mocks.rmq.result.ModelFileKey)
	assert.Equal(t, 2, mocks.rmq.result.Attempt)
}

func testSuccessfulRealTraining(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{trainMockConfig: trainMockConfig{real: true}},
		successfulCalls,
	)
	model, err := svm.ReadModel(bytes.NewReader(mocks.s3.saved))
	require.NoError(t, err)
	assert.Len(t, model.Alpha, 6)
	assert.Len(t, model.SV, 6)
	assert.Equal(t, [2]float64{1, -1}, model.Labels)
	assert.Equal(t, svm.KernelTypeLinear, model.Param.KernelType)
}

func testNamedConfiguration(t *testing.T) {
	mocks := testConfigurationWithBody(
		t,
		`{"run_id":"run-1","rank":0,"world_size":1,"dataset_key":"datasets/small.libsvm","config_name":"rbf"}`,
		mockedClientsConfig{},
		successfulCalls,
	)
	assert.Equal(t, "rbf", mocks.train.trainedWith.Name)
	assert.Equal(t, 1, mocks.rmq.result.Attempt)
}

func testInlineConfiguration(t *testing.T) {
	config := types.DefaultTrainConfig()
	config.Name = "inline"
	config.Cost = 10
	message := Message{
		RunID:      "run-1",
		WorldSize:  1,
		Attempt:    1,
		DatasetKey: "datasets/small.libsvm",
		ConfigName: "rbf",
		Config:     &config,
	}
	body, err := json.Marshal(message)
	require.NoError(t, err)
	mocks := testConfigurationWithBody(t, string(body), mockedClientsConfig{}, successfulCalls)
	assert.Equal(t, "inline", mocks.train.trainedWith.Name)
	assert.Equal(t, 10.0, mocks.train.trainedWith.Cost)
}

func testUnknownConfiguration(t *testing.T) {
	testConfigurationWithBody(
		t,
		`{"run_id":"run-1","rank":0,"world_size":1,"dataset_key":"datasets/small.libsvm","config_name":"missing"}`,
		mockedClientsConfig{},
		methodsCalls{
			rmq: rmqMockCalls{rejectDelivery: true},
		},
	)
}

func testInvalidMessage(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"run_id":"run-1","rank":2,"world_size":2,"dataset_key":"d"}`,
		`{"run_id":"run-1","rank":0,"world_size":0,"dataset_key":"d"}`,
		`{"run_id":"run-1","rank":0,"world_size":1}`,
	} {
		testConfigurationWithBody(
			t,
			body,
			mockedClientsConfig{},
			methodsCalls{
				rmq: rmqMockCalls{rejectDelivery: true},
			},
		)
	}
}

func testGetRunTaskFailed(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{getRunTask: withValue{fail: true}},
		},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true},
			rmq:   rmqMockCalls{rejectDelivery: true},
		},
	)
}

func testAlreadyCompletedSuccessfully(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{
				getRunTask: withValue{
					returnedValue: tasks.RunTask{
						Training: tasks.TrainingInfo{Status: tasks.TaskStatusCompletedSuccess},
					},
				},
			},
		},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
		},
	)
	assert.Equal(t, tasks.TaskStatusCompletedSuccess, mocks.rmq.result.Status)
}

func testAlreadyCompletedWithFailure(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{
				getRunTask: withValue{
					returnedValue: tasks.RunTask{
						Training: tasks.TrainingInfo{Status: tasks.TaskStatusCompletedFailure},
					},
				},
			},
		},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
		},
	)
	assert.Equal(t, tasks.TaskStatusCompletedFailure, mocks.rmq.result.Status)
}

func testUserCancelled(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{
				getRunTask: withValue{returnedValue: tasks.RunTask{UserCanceled: true}},
			},
		},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true, onTaskCancelled: true},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
		},
	)
	assert.Equal(t, tasks.TaskStatusCanceled, mocks.rmq.result.Status)
}

func testExceededAttempts(t *testing.T) {
	mocks := testConfigurationWithBody(
		t,
		`{"run_id":"run-1","rank":0,"world_size":1,"attempt":4,"dataset_key":"datasets/small.libsvm"}`,
		mockedClientsConfig{},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true, onTaskExceededRetries: true},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
		},
	)
	assert.Equal(t, tasks.TaskStatusCompletedFailure, mocks.rmq.result.Status)
}

func testFailedToUpdateOnTaskStarted(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{onTaskStarted: failingMethod{fail: true}},
		},
		methodsCalls{
			redis: redisMockCalls{getRunTask: true, onTaskStarted: true},
			rmq:   rmqMockCalls{rejectDelivery: true},
		},
	)
}

func testFailedToFetchFromS3(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{
			s3MockConfig: s3MockConfig{getDataset: withValue{fail: true}},
		},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, onTaskFailedWithError: true,
			},
			rmq: rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
			s3:  s3MockCalls{getDataset: true},
		},
	)
	assert.Equal(t, tasks.TaskStatusFailed, mocks.rmq.result.Status)
}

func testMalformedDataset(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			s3MockConfig: s3MockConfig{getDataset: withValue{returnedValue: []byte("1 a:b\n-1 1:2\n")}},
		},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, onTaskFailedWithError: true,
			},
			rmq: rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
			s3:  s3MockCalls{getDataset: true},
		},
	)
}

func testFailedToJoinGroup(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{joinGroup: failingMethod{fail: true}},
		},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskFailedWithError: true,
			},
			rmq: rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
			s3:  s3MockCalls{getDataset: true},
		},
	)
}

func testTrainingError(t *testing.T) {
	mocks := testConfiguration(
		t,
		mockedClientsConfig{
			trainMockConfig: trainMockConfig{fail: true},
		},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskFailedWithError: true,
			},
			rmq:   rmqMockCalls{pingResults: true, acknowledgeDelivery: true},
			s3:    s3MockCalls{getDataset: true},
			train: trainCall{true},
		},
	)
	assert.Equal(t, tasks.TaskStatusFailed, mocks.rmq.result.Status)
	assert.Empty(t, mocks.rmq.result.ModelFileKey)
}

func testFailedToUpdateOnTaskFailedWithError(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			trainMockConfig: trainMockConfig{fail: true},
			redisMockConfig: redisMockConfig{onTaskFailedWithError: failingMethod{fail: true}},
		},
		methodsCalls{
			redis: redisMockCalls{
				getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskFailedWithError: true,
			},
			rmq:   rmqMockCalls{rejectDelivery: true},
			s3:    s3MockCalls{getDataset: true},
			train: trainCall{true},
		},
	)
}

func testFailedToUpdateOnTaskComplete(t *testing.T) {
	expected := successfulCalls
	expected.rmq = rmqMockCalls{rejectDelivery: true}
	testConfiguration(
		t,
		mockedClientsConfig{
			redisMockConfig: redisMockConfig{onTaskComplete: failingMethod{fail: true}},
		},
		expected,
	)
}

func testFailedToSaveToS3(t *testing.T) {
	expected := successfulCalls
	expected.redis = redisMockCalls{
		getRunTask: true, onTaskStarted: true, joinGroup: true, onTaskFailedWithError: true,
	}
	testConfiguration(
		t,
		mockedClientsConfig{
			s3MockConfig: s3MockConfig{saveModel: failingMethod{fail: true}},
		},
		expected,
	)
}

func testFailedAckDelivery(t *testing.T) {
	testConfiguration(
		t,
		mockedClientsConfig{
			rmqMockConfig: rmqMockConfig{acknowledgeDelivery: failingMethod{fail: true}},
		},
		successfulCalls,
	)
}

func testFailedPingResults(t *testing.T) {
	expected := successfulCalls
	expected.rmq = rmqMockCalls{pingResults: true, rejectDelivery: true}
	testConfiguration(
		t,
		mockedClientsConfig{
			rmqMockConfig: rmqMockConfig{pingResults: failingMethod{fail: true}},
		},
		expected,
	)
}
