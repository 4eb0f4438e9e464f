package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// failingHook fails every command named cmd before it reaches the network.
type failingHook struct {
	cmd   string
	calls atomic.Int32
}

func (h *failingHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	if cmd.Name() != h.cmd {
		return ctx, nil
	}
	h.calls.Inc()
	return ctx, errors.New("simulated network failure")
}

func (h *failingHook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	return nil
}

func (h *failingHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	return ctx, nil
}

func (h *failingHook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	return nil
}

func newTestNetworkedBackend(t *testing.T, cfg interfaces.NetworkedConfig) (*NetworkedBackend, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg.Endpoint = "redis://" + mr.Addr()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 10 * time.Millisecond
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewNetworkedBackend(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return b, mr
}

func TestNetworkedBackend_RoundTrip(t *testing.T) {
	b, _ := newTestNetworkedBackend(t, interfaces.NetworkedConfig{})
	ctx := context.Background()

	for _, consistency := range []interfaces.ConsistencyLevel{interfaces.Strong, interfaces.Eventual, interfaces.ReadYourWrites, interfaces.Causal} {
		t.Run(consistency.String(), func(t *testing.T) {
			value := []byte{0x00, 0xff, 'v', 0x10}
			require.NoError(t, b.Put(ctx, "binary", value, consistency))

			got, found, err := b.Get(ctx, "binary", consistency)
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, value, got)
		})
	}
}

func TestNetworkedBackend_MissingAndDelete(t *testing.T) {
	b, _ := newTestNetworkedBackend(t, interfaces.NetworkedConfig{})
	ctx := context.Background()

	_, found, err := b.Get(ctx, "missing", interfaces.Strong)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, b.Put(ctx, "k", []byte("v"), interfaces.Strong))
	require.NoError(t, b.Delete(ctx, "k", interfaces.Strong))
	require.NoError(t, b.Delete(ctx, "k", interfaces.Strong))

	_, found, err = b.Get(ctx, "k", interfaces.Strong)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNetworkedBackend_KeyPrefix(t *testing.T) {
	b, mr := newTestNetworkedBackend(t, interfaces.NetworkedConfig{KeyPrefix: "node:"})

	require.NoError(t, b.Put(context.Background(), "peer_list", []byte("peers"), interfaces.Strong))

	raw, err := mr.Get("node:peer_list")
	require.NoError(t, err)
	assert.Equal(t, "peers", raw)
}

func TestNetworkedBackend_InvalidKey(t *testing.T) {
	b, _ := newTestNetworkedBackend(t, interfaces.NetworkedConfig{})

	err := b.Put(context.Background(), "../x", []byte("v"), interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrInvalidKey)
}

func TestNetworkedBackend_RetryExhaustion(t *testing.T) {
	b, _ := newTestNetworkedBackend(t, interfaces.NetworkedConfig{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})

	hook := &failingHook{cmd: "get"}
	b.client.AddHook(hook)

	start := time.Now()
	_, _, err := b.Get(context.Background(), "k", interfaces.Strong)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.Equal(t, int32(3), hook.calls.Load())
	// Backoff of 10ms then 20ms between the three attempts.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
}

func TestNetworkedBackend_ServerErrorsAreNotRetried(t *testing.T) {
	b, mr := newTestNetworkedBackend(t, interfaces.NetworkedConfig{
		MaxRetries: 3,
		RetryDelay: 50 * time.Millisecond,
	})
	_, err := mr.Lpush("peers", "a")
	require.NoError(t, err)

	start := time.Now()
	_, _, err = b.Get(context.Background(), "peers", interfaces.Strong)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "WRONGTYPE")
	assert.Less(t, elapsed, 50*time.Millisecond)

	mr.RequireAuth("secret")
	err = b.Put(context.Background(), "k", []byte("v"), interfaces.Strong)
	require.Error(t, err)
	assert.NotErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.Contains(t, err.Error(), "NOAUTH")
}

func TestClassifyRedisError(t *testing.T) {
	var perm *permanentError

	transport := errors.New("dial tcp: connection refused")
	assert.Equal(t, transport, classifyRedisError(transport))

	loading := classifyRedisError(redisReply("LOADING Redis is loading the dataset in memory"))
	assert.False(t, errors.As(loading, &perm))

	wrongType := classifyRedisError(redisReply("WRONGTYPE Operation against a key holding the wrong kind of value"))
	assert.True(t, errors.As(wrongType, &perm))
}

// redisReply is a server error reply as seen by the client.
type redisReply string

var _ redis.Error = redisReply("")

func (r redisReply) Error() string { return string(r) }
func (r redisReply) RedisError()   {}

func TestNetworkedBackend_RecoversWithinRetries(t *testing.T) {
	b, _ := newTestNetworkedBackend(t, interfaces.NetworkedConfig{
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	})
	ctx := context.Background()
	require.NoError(t, b.Put(ctx, "k", []byte("v"), interfaces.Strong))

	hook := &flakyHook{failures: 2}
	b.client.AddHook(hook)

	value, found, err := b.Get(ctx, "k", interfaces.Strong)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), value)
}

// flakyHook fails the first n GET commands.
type flakyHook struct {
	failingHook
	failures int32
}

func (h *flakyHook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	if cmd.Name() != "get" {
		return ctx, nil
	}
	if h.calls.Inc() <= h.failures {
		return ctx, errors.New("simulated network failure")
	}
	return ctx, nil
}

func TestNetworkedBackend_ConstructionFailsWhenUnreachable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err = NewNetworkedBackend(context.Background(), interfaces.NetworkedConfig{
		Endpoint:   "redis://" + addr,
		Timeout:    100 * time.Millisecond,
		RetryDelay: time.Millisecond,
	}, logger)
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
}

func TestNetworkedBackend_InvalidConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name string
		cfg  interfaces.NetworkedConfig
	}{
		{name: "empty endpoint", cfg: interfaces.NetworkedConfig{}},
		{name: "bad scheme", cfg: interfaces.NetworkedConfig{Endpoint: "http://localhost:6379"}},
		{name: "negative retries", cfg: interfaces.NetworkedConfig{Endpoint: "redis://localhost:6379", MaxRetries: -1}},
		{name: "negative pool", cfg: interfaces.NetworkedConfig{Endpoint: "redis://localhost:6379", PoolSize: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ValidateNetworkedConfig(tt.cfg), interfaces.ErrInvalidConfig)

			_, err := NewNetworkedBackend(context.Background(), tt.cfg, logger)
			assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
		})
	}
}

func TestNetworkedBackend_Available(t *testing.T) {
	b, mr := newTestNetworkedBackend(t, interfaces.NetworkedConfig{Timeout: 100 * time.Millisecond})

	assert.True(t, b.Available(context.Background()))
	mr.Close()
	assert.False(t, b.Available(context.Background()))
}
