package clients

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ruteri/node-storage/api"
	"github.com/ruteri/node-storage/httpserver"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/manager"
	"github.com/ruteri/node-storage/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ interfaces.StorageBackend = (*StorageClient)(nil)

func startAgent(t *testing.T, policy interfaces.StoragePolicy, names ...string) (*httptest.Server, *manager.Manager) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := manager.New(nil, logger, manager.WithPolicy(policy))
	require.NoError(t, err)
	for _, name := range names {
		b, err := storage.NewMemoryBackend(name, 0, 0, logger)
		require.NoError(t, err)
		require.NoError(t, m.AddBackendInstance(name, b, 0, true))
	}

	srv, err := httpserver.New(&api.HTTPServerConfig{Log: logger}, httpserver.NewHandler(m, logger), nil)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func TestStorageClient_RoundTrip(t *testing.T) {
	ts, _ := startAgent(t, interfaces.AlwaysUse("mem"), "mem")
	client, err := NewStorageClient(ts.URL+"/", time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	assert.Equal(t, "remote:"+ts.URL, client.Name())
	assert.True(t, client.Available(ctx))

	_, found, err := client.Get(ctx, "agent-config", interfaces.Strong)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, client.Put(ctx, "agent-config", []byte("v1"), interfaces.ReadYourWrites))
	value, found, err := client.Get(ctx, "agent-config", interfaces.Eventual)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v1"), value)

	require.NoError(t, client.Put(ctx, "empty", []byte{}, interfaces.Strong))
	value, found, err = client.Get(ctx, "empty", interfaces.Strong)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, value)

	require.NoError(t, client.Delete(ctx, "agent-config", interfaces.Causal))
	require.NoError(t, client.Delete(ctx, "agent-config", interfaces.Causal))

	snap, err := client.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), snap.Operations)
	assert.Equal(t, uint64(7), snap.BackendOperations["mem"])

	backends, err := client.Backends(ctx)
	require.NoError(t, err)
	require.Len(t, backends, 1)
	assert.Equal(t, "mem", backends[0].Name)

	require.NoError(t, client.ResetMetrics(ctx))
	snap, err = client.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), snap.Operations)
}

func TestStorageClient_ErrorsMapToSentinels(t *testing.T) {
	ts, _ := startAgent(t, interfaces.AlwaysUse("missing"))
	client, err := NewStorageClient(ts.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	err = client.Put(ctx, "k", []byte("v"), interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrBackendNotFound)

	_, _, err = client.Get(ctx, "../k", interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrInvalidKey)

	assert.False(t, client.Available(ctx))
}

func TestStorageClient_PeerUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	client, err := NewStorageClient(url, 200*time.Millisecond)
	require.NoError(t, err)

	_, _, err = client.Get(context.Background(), "k", interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)
	assert.False(t, client.Available(context.Background()))
}

func TestStorageClient_UnstructuredErrors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			http.Error(w, "teapot", http.StatusTeapot)
			return
		}
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer ts.Close()

	client, err := NewStorageClient(ts.URL, time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = client.Get(ctx, "k", interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrConnectionFailed)

	err = client.Put(ctx, "k", []byte("v"), interfaces.Strong)
	assert.ErrorIs(t, err, ErrRemote)
	assert.Contains(t, err.Error(), "teapot")
}

func TestNewStorageClient_InvalidURL(t *testing.T) {
	for _, u := range []string{"", "peer:8080", "ftp://peer", "http://"} {
		_, err := NewStorageClient(u, 0)
		assert.ErrorIs(t, err, interfaces.ErrInvalidConfig, u)
	}
}
