package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ruteri/node-storage/api"
	"github.com/ruteri/node-storage/httpserver"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
	"github.com/ruteri/node-storage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubPlugin is a configurable test plugin.
type stubPlugin struct {
	name      string
	createErr error
	created   int
}

func (p *stubPlugin) Name() string        { return p.name }
func (p *stubPlugin) Version() string     { return "0.0.1" }
func (p *stubPlugin) Description() string { return "stub " + p.name }

func (p *stubPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	if _, ok := cfg.(interfaces.CustomConfig); !ok {
		return interfaces.ErrInvalidConfig
	}
	return nil
}

func (p *stubPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	p.created++
	if p.createErr != nil {
		return nil, p.createErr
	}
	return storage.NewMemoryBackend(p.name, 0, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNewDefaultRegistry(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewDefaultRegistry(logger)

	var names []string
	for _, info := range r.List() {
		names = append(names, info.Name)
		assert.NotEmpty(t, info.Description)
		assert.NotEmpty(t, info.Version)
	}
	assert.Equal(t, []string{"badger", "ipfs", "local", "memory", "postgres", "redis", "remote", "s3", "vault"}, names)
}

func TestRegistry_NilLogger(t *testing.T) {
	r := NewDefaultRegistry(nil)
	require.NoError(t, r.Register(&stubPlugin{name: "stub"}))

	backend, err := r.Create(context.Background(), interfaces.LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, backend.Put(context.Background(), "k", []byte("v"), interfaces.Strong))
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewDefaultRegistry(logger)

	err := r.Register(&stubPlugin{name: interfaces.LocalPluginName})
	assert.ErrorIs(t, err, interfaces.ErrPluginAlreadyExists)

	// The built-in local plugin is still the one in use.
	p, err := r.Plugin(interfaces.LocalPluginName)
	require.NoError(t, err)
	assert.IsType(t, &LocalPlugin{}, p)

	backend, err := r.Create(context.Background(), interfaces.LocalConfig{Path: filepath.Join(t.TempDir(), "state")})
	require.NoError(t, err)
	assert.IsType(t, &storage.LocalBackend{}, backend)
}

func TestRegistry_RegisterUnregister(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(logger)

	stub := &stubPlugin{name: "stub"}
	require.NoError(t, r.Register(stub))

	backend, err := r.Create(context.Background(), interfaces.CustomConfig{Plugin: "stub"})
	require.NoError(t, err)
	assert.Equal(t, "stub", backend.Name())
	assert.Equal(t, 1, stub.created)

	require.NoError(t, r.Unregister("stub"))
	assert.ErrorIs(t, r.Unregister("stub"), interfaces.ErrPluginNotFound)

	_, err = r.Create(context.Background(), interfaces.CustomConfig{Plugin: "stub"})
	assert.ErrorIs(t, err, interfaces.ErrPluginNotFound)

	assert.ErrorIs(t, r.Register(&stubPlugin{}), interfaces.ErrInvalidConfig)
}

func TestRegistry_Create(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewDefaultRegistry(logger)
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	tests := []struct {
		name        string
		cfg         interfaces.BackendConfig
		expectedErr error
	}{
		{
			name: "local",
			cfg:  interfaces.LocalConfig{Path: filepath.Join(t.TempDir(), "state")},
		},
		{
			name:        "local without path",
			cfg:         interfaces.LocalConfig{},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name: "redis",
			cfg:  interfaces.NetworkedConfig{Endpoint: "redis://" + mr.Addr(), RetryDelay: time.Millisecond},
		},
		{
			name:        "redis with malformed endpoint",
			cfg:         interfaces.NetworkedConfig{Endpoint: "not a url"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name: "memory",
			cfg:  interfaces.CustomConfig{Plugin: "memory", Options: interfaces.Options{"size": 10, "ttl": "1m"}},
		},
		{
			name:        "memory with bad ttl",
			cfg:         interfaces.CustomConfig{Plugin: "memory", Options: interfaces.Options{"ttl": "soon"}},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name: "badger in memory",
			cfg:  interfaces.CustomConfig{Plugin: "badger", Options: interfaces.Options{"in_memory": true}},
		},
		{
			name:        "s3 without bucket",
			cfg:         interfaces.CustomConfig{Plugin: "s3"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name:        "vault without address",
			cfg:         interfaces.CustomConfig{Plugin: "vault"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name:        "ipfs without api",
			cfg:         interfaces.CustomConfig{Plugin: "ipfs"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name:        "postgres without dsn",
			cfg:         interfaces.CustomConfig{Plugin: "postgres"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name:        "remote without url",
			cfg:         interfaces.CustomConfig{Plugin: "remote"},
			expectedErr: interfaces.ErrInvalidConfig,
		},
		{
			name:        "unknown plugin",
			cfg:         interfaces.CustomConfig{Plugin: "floppy"},
			expectedErr: interfaces.ErrPluginNotFound,
		},
		{
			name:        "nil config",
			cfg:         nil,
			expectedErr: interfaces.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend, err := r.Create(ctx, tt.cfg)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, backend)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, backend)
			if closer, ok := backend.(io.Closer); ok {
				closer.Close()
			}
		})
	}
}

func TestRegistry_CreateFailureIsInitializationError(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(logger)
	cause := errors.New("disk on fire")
	require.NoError(t, r.Register(&stubPlugin{name: "stub", createErr: cause}))

	_, err := r.Create(context.Background(), interfaces.CustomConfig{Plugin: "stub"})
	assert.ErrorIs(t, err, interfaces.ErrInitializationFailed)
	assert.ErrorIs(t, err, cause)
}

func TestRegistry_UnreachableRedisFailsAtCreate(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewDefaultRegistry(logger)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = r.Create(context.Background(), interfaces.NetworkedConfig{
		Endpoint:   "redis://" + addr,
		Timeout:    100 * time.Millisecond,
		RetryDelay: time.Millisecond,
	})
	assert.ErrorIs(t, err, interfaces.ErrInitializationFailed)
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
}

func TestRegistry_RemotePeer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	peer, err := manager.New(nil, logger, manager.WithPolicy(interfaces.AlwaysUse("mem")))
	require.NoError(t, err)
	mem, err := storage.NewMemoryBackend("mem", 0, 0, logger)
	require.NoError(t, err)
	require.NoError(t, peer.AddBackendInstance("mem", mem, 0, true))

	srv, err := httpserver.New(&api.HTTPServerConfig{Log: logger}, httpserver.NewHandler(peer, logger), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	cfg, err := ConfigFromURI(ts.URL + "?timeout=2s")
	require.NoError(t, err)

	backend, err := NewDefaultRegistry(logger).Create(ctx, cfg)
	require.NoError(t, err)
	require.True(t, backend.Available(ctx))

	require.NoError(t, backend.Put(ctx, "peer_list", []byte("a,b"), interfaces.Strong))
	value, found, err := mem.Get(ctx, "peer_list", interfaces.Strong)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("a,b"), value)
}
