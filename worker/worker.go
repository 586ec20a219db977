package worker

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"lssvm.dev/trainer/logger"
	"lssvm.dev/trainer/redis"
	"lssvm.dev/trainer/rmq"
	"lssvm.dev/trainer/s3client"
	"lssvm.dev/trainer/tasks"
	"lssvm.dev/trainer/types"
)

// CommDB holds the message lists of the process groups.
const CommDB redis.DB = 1

type Config struct {
	TaskMaxRetries     int `envconfig:"LSSVM_TASK_MAX_RETRIES" default:"3"`
	CommTimeoutSeconds int `envconfig:"LSSVM_COMM_TIMEOUT_SECONDS" default:"300"`
}

func (config Config) commTimeout() time.Duration {
	return time.Duration(config.CommTimeoutSeconds) * time.Second
}

type Worker struct {
	config       Config
	redis        redisTransactions
	s3           s3Transactions
	rmq          rmqTransactions
	workerLogger *zerolog.Logger
	configs      map[string]types.TrainConfig
	train        TrainFunc
}

// New connects the worker to RabbitMQ, S3 and Redis. configs are the named
// training configurations messages may refer to.
func New(configs map[string]types.TrainConfig, train TrainFunc) (*Worker, error) {
	workerLogger := logger.NewLogger("Worker")

	var config Config
	if err := envconfig.Process("", &config); err != nil {
		workerLogger.Error().Err(err).Msg("Could not read config")
		return nil, err
	}

	worker := Worker{
		config:       config,
		workerLogger: &workerLogger,
		configs:      configs,
		train:        train,
	}
	if err := worker.refreshRMQClient(); err != nil {
		workerLogger.Error().Err(err).Msg("Could not create RMQ client")
		return nil, err
	}
	if err := worker.refreshS3Client(); err != nil {
		workerLogger.Error().Err(err).Msg("Could not create S3 client")
		return nil, err
	}
	if err := worker.refreshRedisClients(); err != nil {
		workerLogger.Error().Err(err).Msg("Could not create Redis client")
		return nil, err
	}
	return &worker, nil
}

func (worker *Worker) StartWorker() error {
	defer worker.Close()
	for {
		select {
		case delivery, ok := <-worker.rmq.getDeliveriesCh():
			if ok {
				go worker.processMessage(&delivery)
				continue
			}
			worker.workerLogger.Error().Msg("Deliveries channel closed, trying to refresh RMQ client")
			if err := worker.refreshRMQClient(); err != nil {
				return fmt.Errorf(
					"rmq deliveries channel has been closed and refresh returned error: %w",
					err,
				)
			}
		case rmqErr := <-worker.rmq.getRespChanErrorsCh():
			if rmqErr == nil {
				continue
			}
			worker.workerLogger.Err(rmqErr).Msg("Response connection received error, trying to refresh RMQ client")
			if err := worker.refreshRMQClient(); err != nil {
				return fmt.Errorf(
					"response connection received error and refresh failed with: %w",
					err,
				)
			}
		case rmqErr := <-worker.rmq.getReqChanErrorsCh():
			if rmqErr == nil {
				continue
			}
			worker.workerLogger.Err(rmqErr).Msg("Request connection received error, trying to refresh RMQ client")
			if err := worker.refreshRMQClient(); err != nil {
				return fmt.Errorf(
					"request connection received error and refresh failed with: %w",
					err,
				)
			}
		}
	}
}

func (worker *Worker) Close() {
	worker.redis.close()
	worker.s3.close()
	worker.rmq.close()
}

func (worker *Worker) refreshRedisClients() error {
	worker.workerLogger.Info().Msg("Refreshing Redis clients")
	if oldClient := worker.redis; oldClient != nil {
		defer oldClient.close()
	}
	tasksClient, err := tasks.NewClient()
	if err != nil {
		worker.workerLogger.Err(err).Msg("Failed to refresh Redis client")
		return err
	}
	commClient, err := redis.NewClient(CommDB)
	if err != nil {
		tasksClient.Close()
		worker.workerLogger.Err(err).Msg("Failed to refresh Redis client")
		return err
	}
	worker.redis = &redisClientWrapper{
		tasksClient: &tasksClient,
		commClient:  commClient,
		commTimeout: worker.config.commTimeout(),
	}
	worker.workerLogger.Info().Msg("Refreshed Redis clients")
	return nil
}

func (worker *Worker) refreshRMQClient() error {
	worker.workerLogger.Info().Msg("Refreshing RMQ client")
	if oldClient := worker.rmq; oldClient != nil {
		defer oldClient.close()
	}
	rmqClient, err := rmq.NewClient()
	if err != nil {
		worker.workerLogger.Err(err).Msg("Failed to refresh RMQ client")
		return err
	}
	worker.rmq = &rmqClientWrapper{rmqClient}
	worker.workerLogger.Info().Msg("Refreshed RMQ client")
	return nil
}

func (worker *Worker) refreshS3Client() error {
	worker.workerLogger.Info().Msg("Refreshing S3 client")
	if oldClient := worker.s3; oldClient != nil {
		defer oldClient.close()
	}
	s3Client, err := s3client.New()
	if err != nil {
		worker.workerLogger.Err(err).Msg("Failed to refresh S3 client")
		return err
	}
	worker.s3 = &s3ClientWrapper{s3Client}
	worker.workerLogger.Info().Msg("Refreshed S3 client")
	return nil
}
