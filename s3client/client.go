package s3client

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"

	"lssvm.dev/trainer/logger"
)

type EnvironmentConfig struct {
	BucketName  string `envconfig:"LSSVM_S3_BUCKET" required:"true"`
	Env         string `envconfig:"LSSVM_ENV" default:"prod"`
	Region      string `envconfig:"LSSVM_AWS_REGION_NAME" required:"true"`
	AwsEndpoint string `envconfig:"LSSVM_AWS_ENDPOINT_URL" default:""`
	AccessKeyID string `envconfig:"LSSVM_AWS_ACCESS_ID" default:""`
	AccessKey   string `envconfig:"LSSVM_AWS_ACCESS_KEY" default:""`
}

// Client stores data sets and trained models in one bucket. Every operation
// is retried once on a fresh session.
type Client struct {
	bucket   string
	sessions *sessionRefresher
}

var clientLogger = logger.NewLogger("S3Client")
var sdkLogger = logger.NewLogger("S3-SDK")

func New() (*Client, error) {
	var env EnvironmentConfig
	if err := envconfig.Process("", &env); err != nil {
		clientLogger.Err(err).Caller().Msg("Failed to get proper variables from environment")
		return nil, err
	}
	sessions, err := newSessionRefresher(env)
	if err != nil {
		return nil, err
	}
	return &Client{bucket: env.BucketName, sessions: sessions}, nil
}

func (client *Client) Upload(ctx context.Context, data []byte, key string) (*s3manager.UploadOutput, error) {
	keyLogger := client.keyLogger(key)
	var output *s3manager.UploadOutput
	err := client.sessions.do(func(sess *session.Session) error {
		uploader := s3manager.NewUploader(client.sdkSession(sess, key))
		keyLogger.Debug().Int("bytes", len(data)).Msg("Uploading object")
		var err error
		output, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
			Bucket:      aws.String(client.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String(contentType(key)),
		})
		return err
	})
	if err != nil {
		keyLogger.Err(err).Msg("Failed to upload object")
		return nil, err
	}
	return output, nil
}

func (client *Client) Download(ctx context.Context, key string) ([]byte, error) {
	keyLogger := client.keyLogger(key)
	var data []byte
	err := client.sessions.do(func(sess *session.Session) error {
		downloader := s3manager.NewDownloader(client.sdkSession(sess, key))
		buf := aws.NewWriteAtBuffer(nil)
		size, err := downloader.DownloadWithContext(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(client.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return err
		}
		keyLogger.Debug().Int64("bytes", size).Msg("Downloaded object")
		data = buf.Bytes()
		return nil
	})
	if err != nil {
		keyLogger.Err(err).Msg("Failed to download object")
		return nil, err
	}
	return data, nil
}

func (client *Client) Close() {
	client.sessions.close()
}

func (client *Client) keyLogger(key string) zerolog.Logger {
	return clientLogger.With().Str("bucket", client.bucket).Str("key", key).Logger()
}

func (client *Client) sdkSession(sess *session.Session, key string) *session.Session {
	log := sdkLogger.With().Str("bucket", client.bucket).Str("key", key).Logger()
	return sess.Copy(&aws.Config{Logger: aws.LoggerFunc(func(v ...interface{}) {
		log.Debug().Msg(fmt.Sprint(v...))
	})})
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "text/plain"
}
