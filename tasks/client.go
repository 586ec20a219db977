package tasks

import (
	"lssvm.dev/trainer/redis"
)

type Client struct {
	Runs RunTasks
}

// NewClient is a preferred way for working with run documents
func NewClient() (Client, error) {
	runsRedisClient, err := redis.NewClient(RunsDB)
	if err != nil {
		return Client{}, err
	}
	return Client{
		Runs: RunTasks{client: runsRedisClient},
	}, nil
}

func (client *Client) Close() {
	_ = client.Runs.client.Close()
}
