package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

const (
	localFileExt    = ".json"
	localTempPrefix = ".tmp_"
	localDirMode    = 0o700
	localFileMode   = 0o600
)

// LocalBackend stores one file per key under a private directory.
//
// Writes go to a uniquely named temp file in the same directory which is then
// renamed over the target, so a crash leaves either the old value or the new
// one. Temp files start with a dot and can never collide with a valid key.
//
// Every write is synced before it is acknowledged, so all consistency levels
// are served as Strong.
type LocalBackend struct {
	dir string
	log *slog.Logger

	// rename is os.Rename outside of tests.
	rename func(oldpath, newpath string) error
}

// NewLocalBackend creates the directory (mode 0700) if needed and removes temp
// files left behind by interrupted writes.
func NewLocalBackend(dir string, log *slog.Logger) (*LocalBackend, error) {
	log = common.LoggerOrDefault(log)
	if dir == "" {
		return nil, fmt.Errorf("%w: local backend path cannot be empty", interfaces.ErrInvalidConfig)
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid path %q: %v", interfaces.ErrInvalidConfig, dir, err)
	}

	if err := os.MkdirAll(abs, localDirMode); err != nil {
		return nil, fmt.Errorf("%w: failed to create directory %s: %v", interfaces.ErrInvalidConfig, abs, err)
	}
	if err := os.Chmod(abs, localDirMode); err != nil {
		return nil, fmt.Errorf("%w: failed to restrict directory %s: %v", interfaces.ErrInvalidConfig, abs, err)
	}

	b := &LocalBackend{
		dir:    abs,
		log:    log,
		rename: os.Rename,
	}
	b.removeStaleTempFiles()

	return b, nil
}

// Get reads the value stored under key. A missing file is reported as not found.
func (b *LocalBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	filePath, err := b.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	b.log.Debug("Read value from file",
		slog.String("key", key),
		slog.Int("size", len(data)))

	return data, true, nil
}

// Put atomically replaces the value stored under key.
func (b *LocalBackend) Put(ctx context.Context, key string, value []byte, _ interfaces.ConsistencyLevel) error {
	filePath, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	tmpPath := filepath.Join(b.dir, localTempPrefix+uuid.NewString()+localFileExt)

	if err := writeSynced(tmpPath, value); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file for %s: %w", key, err)
	}

	if err := b.rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file for %s: %w", key, err)
	}

	if err := syncDir(b.dir); err != nil {
		b.log.Warn("Failed to sync storage directory", slog.String("dir", b.dir), "err", err)
	}

	b.log.Debug("Stored value in file",
		slog.String("key", key),
		slog.Int("size", len(value)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Delete removes the file for key. A missing file is not an error.
func (b *LocalBackend) Delete(ctx context.Context, key string, _ interfaces.ConsistencyLevel) error {
	filePath, err := b.pathFor(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Available checks if the storage directory is still accessible.
func (b *LocalBackend) Available(ctx context.Context) bool {
	info, err := os.Stat(b.dir)
	if err != nil {
		b.log.Debug("Local backend unavailable", "err", err)
		return false
	}
	return info.IsDir()
}

// Name returns a unique identifier for this storage backend.
func (b *LocalBackend) Name() string {
	return fmt.Sprintf("local-%s", filepath.Base(b.dir))
}

// Dir returns the absolute storage directory.
func (b *LocalBackend) Dir() string {
	return b.dir
}

// pathFor validates key and maps it into the storage directory.
func (b *LocalBackend) pathFor(key string) (string, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return "", err
	}
	p := filepath.Join(b.dir, key+localFileExt)
	if filepath.Dir(p) != b.dir {
		return "", fmt.Errorf("%w: key %q escapes the storage directory", interfaces.ErrInvalidKey, key)
	}
	return p, nil
}

func (b *LocalBackend) removeStaleTempFiles() {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), localTempPrefix) {
			continue
		}
		if err := os.Remove(filepath.Join(b.dir, e.Name())); err != nil {
			b.log.Warn("Failed to remove stale temp file", slog.String("file", e.Name()), "err", err)
			continue
		}
		b.log.Info("Removed stale temp file", slog.String("file", e.Name()))
	}
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, localFileMode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
