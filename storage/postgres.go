package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresConfig configures a PostgreSQL table backend.
type PostgresConfig struct {
	DSN          string
	Table        string
	MaxOpenConns int
	Retry        RetryPolicy
}

// PostgresBackend stores values in a single key/value table. Strong writes
// commit with synchronous_commit on, Eventual writes with synchronous_commit
// off and return before the WAL is flushed. ReadYourWrites and Causal are
// served as Strong.
type PostgresBackend struct {
	db        *sql.DB
	table     string
	tableName string
	retry     RetryPolicy
	log       *slog.Logger
}

// NewPostgresBackend opens a pooled connection, verifies it and creates the
// table if needed.
func NewPostgresBackend(ctx context.Context, cfg PostgresConfig, log *slog.Logger) (*PostgresBackend, error) {
	log = common.LoggerOrDefault(log)
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn cannot be empty", interfaces.ErrInvalidConfig)
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidConfig, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}

	b, err := NewPostgresBackendFromDB(ctx, db, cfg, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendFromDB wraps an existing pool.
func NewPostgresBackendFromDB(ctx context.Context, db *sql.DB, cfg PostgresConfig, log *slog.Logger) (*PostgresBackend, error) {
	log = common.LoggerOrDefault(log)
	if db == nil {
		return nil, fmt.Errorf("%w: database connection is required", interfaces.ErrInvalidConfig)
	}
	if cfg.Table == "" {
		cfg.Table = "node_storage"
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", interfaces.ErrInvalidConfig, cfg.Table)
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	b := &PostgresBackend{
		db:        db,
		table:     pq.QuoteIdentifier(cfg.Table),
		tableName: cfg.Table,
		retry:     cfg.Retry,
		log:       log,
	}

	err := b.retry.Do(ctx, log, "ensure_table", func(ctx context.Context) error {
		return classifyPostgresError(b.ensureTable(ctx))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure %s table: %w", cfg.Table, err)
	}
	return b, nil
}

func (b *PostgresBackend) ensureTable(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		key TEXT PRIMARY KEY,
		value BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, b.table))
	return err
}

func (b *PostgresBackend) Get(ctx context.Context, key string, _ interfaces.ConsistencyLevel) ([]byte, bool, error) {
	if err := interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}

	var (
		value []byte
		found bool
	)
	err := b.retry.Do(ctx, b.log, "get", func(ctx context.Context) error {
		row := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, b.table), key)
		var data []byte
		err := row.Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			value, found = nil, false
			return nil
		}
		if err != nil {
			return classifyPostgresError(err)
		}
		if data == nil {
			data = []byte{}
		}
		value, found = data, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

func (b *PostgresBackend) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	query := fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, b.table)

	return b.retry.Do(ctx, b.log, "put", func(ctx context.Context) error {
		return classifyPostgresError(b.inTx(ctx, consistency, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, query, key, value, time.Now().UTC())
			return err
		}))
	})
}

func (b *PostgresBackend) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) error {
	if err := interfaces.ValidateKey(key); err != nil {
		return err
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, b.table)

	return b.retry.Do(ctx, b.log, "delete", func(ctx context.Context) error {
		return classifyPostgresError(b.inTx(ctx, consistency, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, query, key)
			return err
		}))
	})
}

func (b *PostgresBackend) inTx(ctx context.Context, consistency interfaces.ConsistencyLevel, fn func(tx *sql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	syncCommit := "on"
	if consistency == interfaces.Eventual {
		syncCommit = "off"
	}
	if _, err := tx.ExecContext(ctx, "SET LOCAL synchronous_commit = "+syncCommit); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (b *PostgresBackend) Available(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := b.db.PingContext(pingCtx); err != nil {
		b.log.Debug("Postgres backend unavailable", "err", err)
		return false
	}
	return true
}

func (b *PostgresBackend) Name() string {
	return fmt.Sprintf("postgres-%s", b.tableName)
}

func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// classifyPostgresError marks data, constraint and schema errors as permanent.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return Permanent(err)
		}
	}
	return err
}
