package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

// MemoryBackend is a bounded in-process LRU, typically the cache half of a
// PreferCache policy. Entries past their TTL read as absent. Values are copied
// in and out so callers cannot alias the cache.
type MemoryBackend struct {
	name  string
	cache *expirable.LRU[string, []byte]
	log   *slog.Logger
}

// NewMemoryBackend creates a cache holding at most size entries (0 is
// unbounded) that expire after ttl (0 never expires).
func NewMemoryBackend(name string, size int, ttl time.Duration, log *slog.Logger) (*MemoryBackend, error) {
	log = common.LoggerOrDefault(log)
	if size < 0 {
		return nil, fmt.Errorf("%w: memory backend size cannot be negative", interfaces.ErrInvalidConfig)
	}
	if ttl < 0 {
		return nil, fmt.Errorf("%w: memory backend ttl cannot be negative", interfaces.ErrInvalidConfig)
	}
	if name == "" {
		name = "memory"
	}

	return &MemoryBackend{
		name:  name,
		cache: expirable.NewLRU[string, []byte](size, nil, ttl),
		log:   log,
	}, nil
}

func (b *MemoryBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}
	v, ok := b.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (b *MemoryBackend) Put(ctx context.Context, key string, value []byte, _ interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	if evicted := b.cache.Add(key, append([]byte{}, value...)); evicted {
		b.log.Debug("Evicted entry from memory backend", slog.String("backend", b.name))
	}
	return nil
}

func (b *MemoryBackend) Delete(ctx context.Context, key string, _ interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	b.cache.Remove(key)
	return nil
}

func (b *MemoryBackend) Available(ctx context.Context) bool {
	return true
}

func (b *MemoryBackend) Name() string {
	return b.name
}

// Len returns the number of cached entries, expired ones included until purged.
func (b *MemoryBackend) Len() int {
	return b.cache.Len()
}
