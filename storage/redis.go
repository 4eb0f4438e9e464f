package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

const (
	DefaultNetworkTimeout = 5 * time.Second
	DefaultPoolSize       = 10
	defaultPoolTimeout    = 30 * time.Second
)

// NetworkedBackend stores values in a Redis-compatible service through a
// bounded connection pool. Each operation is retried with exponential backoff
// and fails with interfaces.ErrConnectionFailed once attempts are exhausted.
//
// Reads always go to the primary. Strong writes additionally wait for
// MinReplicas replicas to acknowledge; Eventual writes return after the
// primary acknowledged. ReadYourWrites and Causal are served as Strong.
type NetworkedBackend struct {
	client      *redis.Client
	retry       RetryPolicy
	prefix      string
	minReplicas int
	timeout     time.Duration
	endpoint    string
	log         *slog.Logger
}

// NewNetworkedBackend connects to cfg.Endpoint and verifies liveness with a
// PING under the same retry policy as regular operations.
func NewNetworkedBackend(ctx context.Context, cfg interfaces.NetworkedConfig, log *slog.Logger) (*NetworkedBackend, error) {
	log = common.LoggerOrDefault(log)
	cfg = withNetworkDefaults(cfg)
	if err := validateNetworkedConfig(cfg); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid endpoint: %v", interfaces.ErrInvalidConfig, err)
	}
	if cfg.Credentials.Username != "" {
		opts.Username = cfg.Credentials.Username
	}
	if cfg.Credentials.Password != "" {
		opts.Password = cfg.Credentials.Password
	}
	opts.DialTimeout = cfg.Timeout
	opts.ReadTimeout = cfg.Timeout
	opts.WriteTimeout = cfg.Timeout
	opts.PoolSize = cfg.PoolSize
	opts.PoolTimeout = defaultPoolTimeout
	// Retries are driven by RetryPolicy so attempts are observable and bounded.
	opts.MaxRetries = -1

	b := &NetworkedBackend{
		client:      redis.NewClient(opts),
		retry:       RetryPolicy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryDelay},
		prefix:      cfg.KeyPrefix,
		minReplicas: cfg.MinReplicas,
		timeout:     cfg.Timeout,
		endpoint:    opts.Addr,
		log:         log,
	}

	err = b.retry.Do(ctx, log, "ping", func(ctx context.Context) error {
		if err := b.client.Ping(ctx).Err(); err != nil {
			return classifyRedisError(err)
		}
		return nil
	})
	if err != nil {
		b.client.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Addr, err)
	}

	log.Info("Connected to networked storage",
		slog.String("addr", opts.Addr),
		slog.Int("pool_size", cfg.PoolSize),
		slog.Int("max_retries", cfg.MaxRetries))

	return b, nil
}

func withNetworkDefaults(cfg interfaces.NetworkedConfig) interfaces.NetworkedConfig {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultNetworkTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	return cfg
}

func validateNetworkedConfig(cfg interfaces.NetworkedConfig) error {
	switch {
	case cfg.Endpoint == "":
		return fmt.Errorf("%w: endpoint cannot be empty", interfaces.ErrInvalidConfig)
	case cfg.Timeout < 0:
		return fmt.Errorf("%w: timeout cannot be negative", interfaces.ErrInvalidConfig)
	case cfg.MaxRetries < 0:
		return fmt.Errorf("%w: max_retries cannot be negative", interfaces.ErrInvalidConfig)
	case cfg.RetryDelay < 0:
		return fmt.Errorf("%w: retry_delay cannot be negative", interfaces.ErrInvalidConfig)
	case cfg.PoolSize < 0:
		return fmt.Errorf("%w: pool_size cannot be negative", interfaces.ErrInvalidConfig)
	case cfg.MinReplicas < 0:
		return fmt.Errorf("%w: min_replicas cannot be negative", interfaces.ErrInvalidConfig)
	}
	return nil
}

// ValidateNetworkedConfig checks a networked configuration without connecting.
func ValidateNetworkedConfig(cfg interfaces.NetworkedConfig) error {
	cfg = withNetworkDefaults(cfg)
	if err := validateNetworkedConfig(cfg); err != nil {
		return err
	}
	if _, err := redis.ParseURL(cfg.Endpoint); err != nil {
		return fmt.Errorf("%w: invalid endpoint: %v", interfaces.ErrInvalidConfig, err)
	}
	return nil
}

// Get retrieves the value stored under key. redis.Nil is reported as not found.
func (b *NetworkedBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}

	var (
		value []byte
		found bool
	)
	err := b.retry.Do(ctx, b.log, "get", func(ctx context.Context) error {
		data, err := b.client.Get(ctx, b.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			value, found = nil, false
			return nil
		}
		if err != nil {
			return classifyRedisError(err)
		}
		value, found = data, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// Put stores value under key.
func (b *NetworkedBackend) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}

	return b.retry.Do(ctx, b.log, "put", func(ctx context.Context) error {
		if err := b.client.Set(ctx, b.prefix+key, value, 0).Err(); err != nil {
			return classifyRedisError(err)
		}
		return b.awaitReplicas(ctx, consistency)
	})
}

// Delete removes key. Deleting an absent key is not an error.
func (b *NetworkedBackend) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}

	return b.retry.Do(ctx, b.log, "delete", func(ctx context.Context) error {
		if err := b.client.Del(ctx, b.prefix+key).Err(); err != nil {
			return classifyRedisError(err)
		}
		return b.awaitReplicas(ctx, consistency)
	})
}

// awaitReplicas blocks a Strong write until MinReplicas replicas acknowledged it.
func (b *NetworkedBackend) awaitReplicas(ctx context.Context, consistency interfaces.ConsistencyLevel) error {
	if consistency == interfaces.Eventual || b.minReplicas == 0 {
		return nil
	}
	acked, err := b.client.Wait(ctx, b.minReplicas, b.timeout).Result()
	if err != nil {
		return classifyRedisError(err)
	}
	if acked < int64(b.minReplicas) {
		return fmt.Errorf("only %d of %d replicas acknowledged the write", acked, b.minReplicas)
	}
	return nil
}

// transientReplies are server error prefixes that clear up on their own.
var transientReplies = []string{"LOADING", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "BUSY"}

// classifyRedisError marks error replies from the server as permanent. Only
// transport failures and the transientReplies are retried.
func classifyRedisError(err error) error {
	var reply redis.Error
	if !errors.As(err, &reply) {
		return err
	}
	msg := reply.Error()
	for _, prefix := range transientReplies {
		if strings.HasPrefix(msg, prefix+" ") || msg == prefix {
			return err
		}
	}
	return Permanent(err)
}

// Available checks if the service answers a PING.
func (b *NetworkedBackend) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.client.Ping(pingCtx).Err(); err != nil {
		b.log.Debug("Networked backend unavailable", slog.String("addr", b.endpoint), "err", err)
		return false
	}
	return true
}

// Name returns a unique identifier for this storage backend.
func (b *NetworkedBackend) Name() string {
	return fmt.Sprintf("redis-%s", b.endpoint)
}

// Close releases the connection pool.
func (b *NetworkedBackend) Close() error {
	return b.client.Close()
}
