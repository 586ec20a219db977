package rmq

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"lssvm.dev/trainer/logger"
)

type Config struct {
	Host     string `envconfig:"LSSVM_RMQ_HOST" required:"true"`
	Port     string `envconfig:"LSSVM_RMQ_PORT" required:"true"`
	Username string `envconfig:"LSSVM_RMQ_USERNAME" required:"true"`
	Password string `envconfig:"LSSVM_RMQ_PASSWORD" required:"true"`
	Exchange string `envconfig:"LSSVM_RMQ_DEFAULT_EXCHANGE" default:"lssvm-default-exchange"`
	// A training job occupies all CPUs of the worker, so one at a time.
	MaxParallelRequestCount int    `envconfig:"LSSVM_RMQ_MAX_PARALLEL_REQUESTS" default:"1"`
	TrainQueue              string `envconfig:"LSSVM_RMQ_TRAIN_QUEUE" required:"true"`
	ResultsQueue            string `envconfig:"LSSVM_RMQ_RESULTS_QUEUE" required:"true"`
}

type Client struct {
	Deliveries     <-chan amqp.Delivery
	ReqChanErrors  <-chan *amqp.Error
	RespChanErrors <-chan *amqp.Error
	config         Config
	reqConn        *amqp.Connection
	respConn       *amqp.Connection
	respChannel    *amqp.Channel
	rmqLogger      *zerolog.Logger
}

func NewClient() (client *Client, err error) {
	rmqLogger := logger.NewLogger("RMQ client")
	var config Config
	if err = envconfig.Process("", &config); err != nil {
		rmqLogger.Error().Err(err).Msg("Could not read env config")
		return nil, err
	}

	url := getURL(config)
	respConn, respChannel, err := setup(url)
	if err != nil {
		return nil, fmt.Errorf("failed connection: %w", err)
	}
	reqConn, reqChannel, err := setup(url)
	if err != nil {
		_ = respConn.Close()
		return nil, fmt.Errorf("failed connection: %w", err)
	}
	defer func() {
		if err != nil {
			_ = reqConn.Close()
			_ = respConn.Close()
		}
	}()

	q, err := reqChannel.QueueDeclarePassive(
		config.TrainQueue, // name
		true,              // durable
		false,             // delete when unused
		false,             // exclusive
		false,             // no-wait
		nil,               // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("declare %s: %w", config.TrainQueue, err)
	}
	if err = reqChannel.QueueBind(
		config.TrainQueue,
		config.TrainQueue,
		config.Exchange,
		false,
		nil); err != nil {
		return nil, fmt.Errorf("bind %s: %w", config.TrainQueue, err)
	}
	if err = reqChannel.Qos(config.MaxParallelRequestCount, 0, false); err != nil {
		return nil, fmt.Errorf("qos: %w", err)
	}

	deliveries, err := reqChannel.Consume(
		q.Name,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("consume deliveries: %w", err)
	}
	reqChanErrors := reqChannel.NotifyClose(make(chan *amqp.Error))
	respChanErrors := respChannel.NotifyClose(make(chan *amqp.Error))

	rmqLogger.Info().Str("queue", q.Name).Msg("Consuming training jobs")
	return &Client{
		Deliveries:     deliveries,
		ReqChanErrors:  reqChanErrors,
		RespChanErrors: respChanErrors,
		config:         config,
		reqConn:        reqConn,
		respConn:       respConn,
		respChannel:    respChannel,
		rmqLogger:      &rmqLogger,
	}, nil
}

func (c *Client) SendResult(msg amqp.Publishing) error {
	return c.respChannel.Publish(
		c.config.Exchange,
		c.config.ResultsQueue,
		false,
		false,
		msg)
}

func (c *Client) Close() {
	_ = c.reqConn.Close()
	_ = c.respConn.Close()
}

func getURL(config Config) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s", config.Username, config.Password, config.Host, config.Port)
}

func setup(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
