package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	jsonpatch "github.com/evanphx/json-patch"
	"github.com/go-redis/redis/v8"
	"github.com/kelseyhightower/envconfig"
)

type DB int
type ReleaseLock func() error

var ErrNotFound = errors.New("redis: document not found")

type Client struct {
	client         redis.UniversalClient
	lockExpiration time.Duration
}

type Config struct {
	LockExpirationSeconds   int     `envconfig:"LSSVM_REDIS_LOCK_EXPIRATION" default:"3"`
	Host                    string  `envconfig:"LSSVM_REDIS_HOST" required:"true"`
	Port                    string  `envconfig:"LSSVM_REDIS_PORT" required:"true"`
	HASentinelPort          string  `envconfig:"LSSVM_REDIS_HA_SENTINEL_PORT" default:"26379"`
	HASentinelMasterName    string  `envconfig:"LSSVM_REDIS_HA_MASTER_NAME" default:"mymaster"`
	Password                string  `envconfig:"LSSVM_REDIS_AUTH_PASSWORD" default:"0"`
	AuthRequired            bool    `envconfig:"LSSVM_REDIS_AUTH_REQUIRED" default:"false"`
	HAMode                  bool    `envconfig:"LSSVM_REDIS_HA_MODE" default:"false"`
	HASentinelSocketTimeout float32 `envconfig:"LSSVM_REDIS_SOCKET_TIMEOUT" default:"0.5"`
}

func NewClient(db DB) (*Client, error) {
	cfg, err := readEnvironment()
	if err != nil {
		return nil, err
	}
	var client redis.UniversalClient
	if cfg.HAMode {
		client = CreateClusterClient(cfg, db)
	} else {
		client = CreateClient(cfg, db)
	}
	return Wrap(client, time.Duration(cfg.LockExpirationSeconds)*time.Second), nil
}

// Wrap builds a Client around an existing connection.
func Wrap(client redis.UniversalClient, lockExpiration time.Duration) *Client {
	return &Client{
		client:         client,
		lockExpiration: lockExpiration,
	}
}

func CreateClusterClient(cfg *Config, db DB) *redis.ClusterClient {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.HASentinelPort)
	timeout := time.Duration(float64(cfg.HASentinelSocketTimeout) * float64(time.Second))
	options := redis.FailoverOptions{
		SentinelAddrs: []string{addr},
		ReadTimeout:   timeout,
		WriteTimeout:  timeout,
		MaxRetries:    6,
		DB:            int(db),
		MasterName:    cfg.HASentinelMasterName,
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewFailoverClusterClient(&options)
}

func CreateClient(cfg *Config, db DB) *redis.Client {
	addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	options := redis.Options{
		Addr:       addr,
		MaxRetries: 6,
		DB:         int(db),
	}
	if cfg.AuthRequired {
		options.Password = cfg.Password
	}
	return redis.NewClient(&options)
}

// GetDocument decodes the JSON document stored at redisKey into doc.
func (client *Client) GetDocument(ctx context.Context, redisKey string, doc interface{}) error {
	b, err := client.get(ctx, redisKey)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, doc)
}

// UpdateDocument applies update to the document at redisKey under a lock.
// Only the fields update changed are written back, so fields of the stored
// document that doc does not declare survive the update.
func (client *Client) UpdateDocument(ctx context.Context, redisKey string, doc interface{}, update func()) (err error) {
	releaseLock, err := client.Lock(ctx, redisKey)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = releaseLock()
			return
		}
		err = releaseLock()
	}()

	stored, err := client.get(ctx, redisKey)
	if err != nil {
		return err
	}
	merged, err := mergeUpdate(stored, doc, update)
	if err != nil {
		return err
	}
	return client.set(ctx, redisKey, merged)
}

// mergeUpdate decodes stored into doc, runs update and returns stored with
// the changes update made to doc merged in.
func mergeUpdate(stored []byte, doc interface{}, update func()) ([]byte, error) {
	if err := json.Unmarshal(stored, doc); err != nil {
		return nil, err
	}
	before, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	update()
	after, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.CreateMergePatch(before, after)
	if err != nil {
		return nil, err
	}
	return jsonpatch.MergePatch(stored, patch)
}

func (client *Client) SaveDocument(ctx context.Context, redisKey string, doc interface{}) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return client.set(ctx, redisKey, b)
}

func (client *Client) Lock(ctx context.Context, redisKey string) (ReleaseLock, error) {
	lockCl := redislock.New(client.client)
	str := redislock.LimitRetry(redislock.LinearBackoff(time.Second), 20)
	lockKey := fmt.Sprintf("lock:%s", redisKey)
	lock, err := lockCl.Obtain(ctx, lockKey, client.lockExpiration, &redislock.Options{RetryStrategy: str})
	if err != nil {
		return nil, err
	}
	return func() error {
		return lock.Release(ctx)
	}, nil
}

func (client *Client) Close() error {
	return client.client.Close()
}

func (client *Client) get(ctx context.Context, redisKey string) ([]byte, error) {
	b, err := client.client.Get(ctx, redisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, redisKey)
	}
	return b, err
}

func (client *Client) set(ctx context.Context, redisKey string, b []byte) error {
	return client.client.Set(ctx, redisKey, b, 0).Err()
}

func readEnvironment() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}
