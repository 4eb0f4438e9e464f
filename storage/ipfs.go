package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

// IPFSBackend stores values in the mutable file system (MFS) of an IPFS node
// under a root directory. Strong writes flush the directory so the new root
// CID is persisted before returning.
type IPFSBackend struct {
	shell *shell.Shell
	api   string
	root  string
	log   *slog.Logger
}

func NewIPFSBackend(apiAddr, root string, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	log = common.LoggerOrDefault(log)
	if apiAddr == "" {
		return nil, fmt.Errorf("%w: ipfs api address cannot be empty", interfaces.ErrInvalidConfig)
	}
	if root == "" {
		root = "/node-storage"
	}
	if !strings.HasPrefix(root, "/") {
		root = "/" + root
	}

	sh := shell.NewShell(apiAddr)
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}

	return &IPFSBackend{
		shell: sh,
		api:   apiAddr,
		root:  path.Clean(root),
		log:   log,
	}, nil
}

func (b *IPFSBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}
	start := time.Now()
	p := b.pathFor(key)

	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s from IPFS: %w", p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched value from IPFS",
		slog.String("path", p),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, true, nil
}

func (b *IPFSBackend) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	p := b.pathFor(key)

	err := b.shell.FilesWrite(ctx, p, bytes.NewReader(value),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write %s to IPFS: %w", p, err)
	}
	return b.flushFor(ctx, consistency)
}

func (b *IPFSBackend) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	p := b.pathFor(key)

	if err := b.shell.FilesRm(ctx, p, true); err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("failed to remove %s from IPFS: %w", p, err)
	}
	return b.flushFor(ctx, consistency)
}

func (b *IPFSBackend) flushFor(ctx context.Context, consistency interfaces.ConsistencyLevel) error {
	if consistency == interfaces.Eventual {
		return nil
	}
	if _, err := b.shell.FilesFlush(ctx, b.root); err != nil && !isIPFSNotFound(err) {
		return fmt.Errorf("failed to flush %s: %w", b.root, err)
	}
	return nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s", b.api)
}

func (b *IPFSBackend) pathFor(key string) string {
	return path.Join(b.root, key)
}

func isIPFSNotFound(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named")
}
