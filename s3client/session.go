package s3client

import (
	"errors"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
)

var errNoSession = errors.New("s3: no valid session")

// sessionRefresher owns the current AWS session. A session that failed an
// operation is replaced before the single retry.
type sessionRefresher struct {
	mu      sync.Mutex
	env     EnvironmentConfig
	curr    *session.Session
	closed  bool
	connect func(env EnvironmentConfig) (*session.Session, error)
}

func newSessionRefresher(env EnvironmentConfig) (*sessionRefresher, error) {
	refresher := &sessionRefresher{env: env, connect: connect}
	if _, err := refresher.refresh(nil); err != nil {
		return nil, err
	}
	return refresher, nil
}

// do runs op with the current session and once more with a refreshed session
// if the first call fails.
func (r *sessionRefresher) do(op func(sess *session.Session) error) error {
	sess, err := r.current()
	if err != nil {
		return err
	}
	if err = op(sess); err == nil {
		return nil
	}
	clientLogger.Error().Err(err).Msg("Caught error while using S3 session, trying to refresh it")
	sess, err = r.refresh(sess)
	if err != nil {
		return err
	}
	return op(sess)
}

func (r *sessionRefresher) current() (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.curr == nil {
		return nil, errNoSession
	}
	return r.curr, nil
}

// refresh replaces failed unless another caller already did.
func (r *sessionRefresher) refresh(failed *session.Session) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errNoSession
	}
	if r.curr != nil && r.curr != failed {
		return r.curr, nil
	}
	sess, err := r.connect(r.env)
	if err != nil {
		r.curr = nil
		clientLogger.Error().Err(err).Msg("Caught error while refreshing S3 session")
		return nil, err
	}
	r.curr = sess
	return sess, nil
}

func (r *sessionRefresher) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.curr = nil
	clientLogger.Info().Msg("Closing client")
}

type namedConfig struct {
	name   string
	config *aws.Config
}

// candidateConfigs lists the ways to authenticate in the order they are
// tried: the instance role first, then static credentials from the
// environment when they are set.
func candidateConfigs(env EnvironmentConfig) []namedConfig {
	configs := []namedConfig{{
		name: "EC2",
		config: aws.NewConfig().
			WithRegion(env.Region).
			WithMaxRetries(4).
			WithLogLevel(aws.LogDebug),
	}}
	if env.AccessKeyID == "" || env.AccessKey == "" {
		return configs
	}
	cfg := aws.NewConfig().
		WithRegion(env.Region).
		WithMaxRetries(4).
		WithCredentials(credentials.NewStaticCredentials(env.AccessKeyID, env.AccessKey, "")).
		WithLogLevel(aws.LogDebug)
	if env.Env == "dev" && env.AwsEndpoint != "" {
		cfg = cfg.WithEndpoint(env.AwsEndpoint).WithS3ForcePathStyle(true)
	}
	return append(configs, namedConfig{name: "env credentials", config: cfg})
}

func connect(env EnvironmentConfig) (*session.Session, error) {
	var errs []error
	for _, candidate := range candidateConfigs(env) {
		sess, err := session.NewSession(candidate.config)
		if err == nil {
			_, err = sts.New(sess).GetCallerIdentity(&sts.GetCallerIdentityInput{})
		}
		if err != nil {
			clientLogger.Info().Err(err).Msgf("Could not initialize S3 session using %s", candidate.name)
			errs = append(errs, err)
			continue
		}
		clientLogger.Info().Msgf("S3 session successfully initialized using %s", candidate.name)
		return sess, nil
	}
	return nil, errors.Join(append([]error{errNoSession}, errs...)...)
}
