package storage

import (
	"context"
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

// fakeS3 serves the path-style subset of the S3 object API used by S3Backend.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := strings.TrimPrefix(r.URL.Path, "/")
	if !strings.Contains(p, "/") {
		// Bucket-level request, e.g. HeadBucket.
		w.WriteHeader(http.StatusOK)
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[p] = body
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[p]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	case http.MethodDelete:
		delete(f.objects, p)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) object(p string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[p]
}

func newTestS3Backend(t *testing.T, withCredentials bool) (*S3Backend, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := S3Config{
		Bucket:    "node-state",
		Prefix:    "agent-1/",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		PathStyle: true,
	}
	if withCredentials {
		cfg.AccessKey = "test"
		cfg.SecretKey = "test"
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b, err := NewS3Backend(cfg, logger)
	require.NoError(t, err)
	return b, fake
}

func TestS3Backend_RoundTrip(t *testing.T) {
	b, fake := newTestS3Backend(t, true)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "peer_list", []byte("peers"), interfaces.Strong))
	assert.Equal(t, []byte("peers"), fake.object("node-state/agent-1/peer_list"))

	value, found, err := b.Get(ctx, "peer_list", interfaces.Strong)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("peers"), value)

	require.NoError(t, b.Delete(ctx, "peer_list", interfaces.Strong))
	require.NoError(t, b.Delete(ctx, "peer_list", interfaces.Strong))

	_, found, err = b.Get(ctx, "peer_list", interfaces.Strong)
	require.NoError(t, err)
	assert.False(t, found)

	assert.True(t, b.Available(ctx))
}

func TestS3Backend_ReadOnlyWithoutCredentials(t *testing.T) {
	b, _ := newTestS3Backend(t, false)
	ctx := context.Background()

	err := b.Put(ctx, "k", []byte("v"), interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrReadOnly)

	err = b.Delete(ctx, "k", interfaces.Strong)
	assert.ErrorIs(t, err, interfaces.ErrReadOnly)

	_, err = NewS3Backend(S3Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, interfaces.ErrInvalidConfig)
}
