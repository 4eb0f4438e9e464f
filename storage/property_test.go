package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/stretchr/testify/require"
)

// For any valid key and value, put followed by get returns the value, and
// delete followed by get reports it absent.
func TestBackends_RoundTripProperty(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	local, err := NewLocalBackend(filepath.Join(t.TempDir(), "state"), logger)
	require.NoError(t, err)
	memory, err := NewMemoryBackend("memory", 0, 0, logger)
	require.NoError(t, err)
	badgerDB, err := NewBadgerBackend(BadgerConfig{InMemory: true}, logger)
	require.NoError(t, err)
	defer badgerDB.Close()

	backends := []interfaces.StorageBackend{local, memory, badgerDB}

	properties := gopter.NewProperties(nil)

	properties.Property("get returns the last put value", prop.ForAll(
		func(key string, value []byte) bool {
			for _, b := range backends {
				if err := b.Put(ctx, key, value, interfaces.Strong); err != nil {
					return false
				}
				got, found, err := b.Get(ctx, key, interfaces.Strong)
				if err != nil || !found || !bytes.Equal(got, value) {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.SliceOf(gen.UInt8()),
	))

	properties.Property("delete makes the key absent", prop.ForAll(
		func(key string, value string) bool {
			for _, b := range backends {
				if err := b.Put(ctx, key, []byte(value), interfaces.Strong); err != nil {
					return false
				}
				if err := b.Delete(ctx, key, interfaces.Strong); err != nil {
					return false
				}
				if _, found, err := b.Get(ctx, key, interfaces.Strong); err != nil || found {
					return false
				}
			}
			return true
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("keys with traversal are rejected", prop.ForAll(
		func(suffix string) bool {
			key := "../" + suffix
			for _, b := range backends {
				if err := b.Put(ctx, key, []byte("x"), interfaces.Strong); err == nil {
					return false
				}
			}
			return true
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
