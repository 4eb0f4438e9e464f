package storage

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ruteri/node-storage/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVault serves the KV v2 data/metadata endpoints and sys/health.
type fakeVault struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
	token   string
}

func (f *fakeVault) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/v1/sys/health" {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"initialized": true, "sealed": false, "standby": false})
		return
	}
	if r.Header.Get("X-Vault-Token") != f.token {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	p := strings.TrimPrefix(r.URL.Path, "/v1/")
	switch {
	case strings.HasPrefix(p, "secret/data/") && (r.Method == http.MethodPut || r.Method == http.MethodPost):
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.secrets[strings.TrimPrefix(p, "secret/data/")] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": map[string]interface{}{"version": 1}})
	case strings.HasPrefix(p, "secret/data/") && r.Method == http.MethodGet:
		data, ok := f.secrets[strings.TrimPrefix(p, "secret/data/")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": map[string]interface{}{"version": 1}},
		})
	case strings.HasPrefix(p, "secret/metadata/") && r.Method == http.MethodDelete:
		delete(f.secrets, strings.TrimPrefix(p, "secret/metadata/"))
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeVault) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.secrets[p]
	return ok
}

func TestVaultBackend_RoundTrip(t *testing.T) {
	fake := &fakeVault{secrets: map[string]map[string]interface{}{}, token: "root"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewVaultBackend(VaultConfig{
		Address:   srv.URL,
		Token:     "root",
		MountPath: "secret",
		DataPath:  "node",
	}, logger)
	require.NoError(t, err)
	ctx := context.Background()

	value := []byte{0x00, 0x01, 'x'}
	require.NoError(t, b.Put(ctx, "identity_key", value, interfaces.Strong))
	assert.True(t, fake.has("node/identity_key"))

	got, found, err := b.Get(ctx, "identity_key", interfaces.Strong)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, value, got)

	require.NoError(t, b.Delete(ctx, "identity_key", interfaces.Strong))
	require.NoError(t, b.Delete(ctx, "identity_key", interfaces.Strong))

	_, found, err = b.Get(ctx, "identity_key", interfaces.Strong)
	require.NoError(t, err)
	assert.False(t, found)

	assert.True(t, b.Available(ctx))
}

func TestVaultBackend_PermissionDenied(t *testing.T) {
	fake := &fakeVault{secrets: map[string]map[string]interface{}{}, token: "root"}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewVaultBackend(VaultConfig{Address: srv.URL, Token: "wrong"}, logger)
	require.NoError(t, err)

	err = b.Put(context.Background(), "k", []byte("v"), interfaces.Strong)
	assert.Error(t, err)
}
