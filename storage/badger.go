package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

// BadgerConfig configures an embedded badger store.
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
}

// BadgerBackend stores values in an embedded LSM store. Strong writes are
// synced to disk before returning unless the store already syncs every write.
type BadgerBackend struct {
	db         *badger.DB
	path       string
	syncWrites bool
	log        *slog.Logger

	stopGC chan struct{}
	gcDone sync.WaitGroup
	once   sync.Once
}

func NewBadgerBackend(cfg BadgerConfig, log *slog.Logger) (*BadgerBackend, error) {
	log = common.LoggerOrDefault(log)
	if cfg.Path == "" && !cfg.InMemory {
		return nil, fmt.Errorf("%w: badger backend needs a path or in_memory", interfaces.ErrInvalidConfig)
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	b := &BadgerBackend{
		db:         db,
		path:       cfg.Path,
		syncWrites: cfg.SyncWrites,
		log:        log,
		stopGC:     make(chan struct{}),
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		b.gcDone.Add(1)
		go b.runGC(cfg.GCInterval)
	}

	return b, nil
}

func (b *BadgerBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}

	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	if value == nil {
		value = []byte{}
	}
	return value, true, nil
}

func (b *BadgerBackend) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return b.syncFor(consistency)
}

func (b *BadgerBackend) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}

	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return b.syncFor(consistency)
}

func (b *BadgerBackend) syncFor(consistency interfaces.ConsistencyLevel) error {
	if b.syncWrites || consistency == interfaces.Eventual {
		return nil
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("failed to sync badger database: %w", err)
	}
	return nil
}

func (b *BadgerBackend) Available(ctx context.Context) bool {
	return !b.db.IsClosed()
}

func (b *BadgerBackend) Name() string {
	if b.path == "" {
		return "badger-memory"
	}
	return fmt.Sprintf("badger-%s", b.path)
}

// Close stops value log GC and closes the database.
func (b *BadgerBackend) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopGC)
		b.gcDone.Wait()
		err = b.db.Close()
	})
	return err
}

func (b *BadgerBackend) runGC(interval time.Duration) {
	defer b.gcDone.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopGC:
			return
		case <-ticker.C:
			for {
				err := b.db.RunValueLogGC(0.5)
				if err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) {
						b.log.Debug("Badger value log GC stopped", "err", err)
					}
					break
				}
			}
		}
	}
}
