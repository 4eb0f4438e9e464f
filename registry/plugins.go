package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/node-storage/api/clients"
	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
	"github.com/ruteri/node-storage/storage"
)

// Names of the built-in custom plugins.
const (
	MemoryPluginName   = "memory"
	BadgerPluginName   = "badger"
	S3PluginName       = "s3"
	VaultPluginName    = "vault"
	IPFSPluginName     = "ipfs"
	PostgresPluginName = "postgres"
	RemotePluginName   = "remote"
)

// BuiltinPlugins returns one instance of every plugin shipped with the agent.
func BuiltinPlugins(log *slog.Logger) []interfaces.StoragePlugin {
	log = common.LoggerOrDefault(log)
	return []interfaces.StoragePlugin{
		&LocalPlugin{log: log},
		&NetworkedPlugin{log: log},
		&MemoryPlugin{log: log},
		&BadgerPlugin{log: log},
		&S3Plugin{log: log},
		&VaultPlugin{log: log},
		&IPFSPlugin{log: log},
		&PostgresPlugin{log: log},
		&RemotePlugin{log: log},
	}
}

func wrongConfigType(plugin string, cfg interfaces.BackendConfig) error {
	return fmt.Errorf("%w: plugin %s cannot use %T", interfaces.ErrInvalidConfig, plugin, cfg)
}

func customOptions(plugin string, cfg interfaces.BackendConfig) (interfaces.Options, error) {
	c, ok := cfg.(interfaces.CustomConfig)
	if !ok {
		return nil, wrongConfigType(plugin, cfg)
	}
	if c.Plugin != plugin {
		return nil, fmt.Errorf("%w: configuration is for plugin %s, not %s", interfaces.ErrInvalidConfig, c.Plugin, plugin)
	}
	if c.Options == nil {
		return interfaces.Options{}, nil
	}
	return c.Options, nil
}

// LocalPlugin creates file-per-key backends from interfaces.LocalConfig.
type LocalPlugin struct {
	log *slog.Logger
}

func (p *LocalPlugin) Name() string    { return interfaces.LocalPluginName }
func (p *LocalPlugin) Version() string { return common.Version }
func (p *LocalPlugin) Description() string {
	return "Local filesystem, one file per key with atomic writes"
}

func (p *LocalPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	c, ok := cfg.(interfaces.LocalConfig)
	if !ok {
		return wrongConfigType(p.Name(), cfg)
	}
	if c.Path == "" {
		return fmt.Errorf("%w: local backend path cannot be empty", interfaces.ErrInvalidConfig)
	}
	return nil
}

func (p *LocalPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	c, ok := cfg.(interfaces.LocalConfig)
	if !ok {
		return nil, wrongConfigType(p.Name(), cfg)
	}
	return storage.NewLocalBackend(c.Path, p.log)
}

// NetworkedPlugin creates Redis-backed backends from interfaces.NetworkedConfig.
type NetworkedPlugin struct {
	log *slog.Logger
}

func (p *NetworkedPlugin) Name() string    { return interfaces.NetworkedPluginName }
func (p *NetworkedPlugin) Version() string { return common.Version }
func (p *NetworkedPlugin) Description() string {
	return "Redis-compatible key-value service with pooling and retries"
}

func (p *NetworkedPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	c, ok := cfg.(interfaces.NetworkedConfig)
	if !ok {
		return wrongConfigType(p.Name(), cfg)
	}
	return storage.ValidateNetworkedConfig(c)
}

func (p *NetworkedPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	c, ok := cfg.(interfaces.NetworkedConfig)
	if !ok {
		return nil, wrongConfigType(p.Name(), cfg)
	}
	return storage.NewNetworkedBackend(ctx, c, p.log)
}

// MemoryPlugin creates in-process LRU caches. Options: size, ttl.
type MemoryPlugin struct {
	log *slog.Logger
}

func (p *MemoryPlugin) Name() string        { return MemoryPluginName }
func (p *MemoryPlugin) Version() string     { return common.Version }
func (p *MemoryPlugin) Description() string { return "Bounded in-memory LRU cache with optional TTL" }

func (p *MemoryPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	_, _, err := p.parse(cfg)
	return err
}

func (p *MemoryPlugin) parse(cfg interfaces.BackendConfig) (int, time.Duration, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return 0, 0, err
	}
	size, err := opts.Int("size", 1024)
	if err != nil {
		return 0, 0, err
	}
	ttl, err := opts.Duration("ttl", 0)
	if err != nil {
		return 0, 0, err
	}
	if size < 0 || ttl < 0 {
		return 0, 0, fmt.Errorf("%w: memory size and ttl cannot be negative", interfaces.ErrInvalidConfig)
	}
	return size, ttl, nil
}

func (p *MemoryPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	size, ttl, err := p.parse(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewMemoryBackend(MemoryPluginName, size, ttl, p.log)
}

// BadgerPlugin creates embedded LSM backends. Options: path, in_memory,
// sync_writes, gc_interval.
type BadgerPlugin struct {
	log *slog.Logger
}

func (p *BadgerPlugin) Name() string        { return BadgerPluginName }
func (p *BadgerPlugin) Version() string     { return common.Version }
func (p *BadgerPlugin) Description() string { return "Embedded badger key-value store" }

func (p *BadgerPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	_, err := p.parse(cfg)
	return err
}

func (p *BadgerPlugin) parse(cfg interfaces.BackendConfig) (storage.BadgerConfig, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return storage.BadgerConfig{}, err
	}
	bc := storage.BadgerConfig{Path: opts.String("path", "")}
	if bc.InMemory, err = opts.Bool("in_memory", false); err != nil {
		return bc, err
	}
	if bc.SyncWrites, err = opts.Bool("sync_writes", false); err != nil {
		return bc, err
	}
	if bc.GCInterval, err = opts.Duration("gc_interval", 5*time.Minute); err != nil {
		return bc, err
	}
	if bc.Path == "" && !bc.InMemory {
		return bc, fmt.Errorf("%w: badger needs path or in_memory", interfaces.ErrInvalidConfig)
	}
	return bc, nil
}

func (p *BadgerPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	bc, err := p.parse(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewBadgerBackend(bc, p.log)
}

// S3Plugin creates bucket backends. Options: bucket, prefix, region,
// endpoint, access_key, secret_key, path_style.
type S3Plugin struct {
	log *slog.Logger
}

func (p *S3Plugin) Name() string        { return S3PluginName }
func (p *S3Plugin) Version() string     { return common.Version }
func (p *S3Plugin) Description() string { return "Amazon S3 or compatible object storage" }

func (p *S3Plugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	_, err := p.parse(cfg)
	return err
}

func (p *S3Plugin) parse(cfg interfaces.BackendConfig) (storage.S3Config, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return storage.S3Config{}, err
	}
	sc := storage.S3Config{
		Bucket:    opts.String("bucket", ""),
		Prefix:    opts.String("prefix", ""),
		Region:    opts.String("region", "us-east-1"),
		Endpoint:  opts.String("endpoint", ""),
		AccessKey: opts.String("access_key", ""),
		SecretKey: opts.String("secret_key", ""),
	}
	if sc.PathStyle, err = opts.Bool("path_style", sc.Endpoint != ""); err != nil {
		return sc, err
	}
	if sc.Bucket == "" {
		return sc, fmt.Errorf("%w: s3 bucket is required", interfaces.ErrInvalidConfig)
	}
	return sc, nil
}

func (p *S3Plugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	sc, err := p.parse(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewS3Backend(sc, p.log)
}

// VaultPlugin creates Vault KV v2 backends. Options: address, token, mount,
// path, timeout.
type VaultPlugin struct {
	log *slog.Logger
}

func (p *VaultPlugin) Name() string        { return VaultPluginName }
func (p *VaultPlugin) Version() string     { return common.Version }
func (p *VaultPlugin) Description() string { return "HashiCorp Vault KV v2 secrets engine" }

func (p *VaultPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	_, err := p.parse(cfg)
	return err
}

func (p *VaultPlugin) parse(cfg interfaces.BackendConfig) (storage.VaultConfig, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return storage.VaultConfig{}, err
	}
	vc := storage.VaultConfig{
		Address:   opts.String("address", ""),
		Token:     opts.String("token", ""),
		MountPath: opts.String("mount", "secret"),
		DataPath:  opts.String("path", ""),
	}
	if vc.Timeout, err = opts.Duration("timeout", 30*time.Second); err != nil {
		return vc, err
	}
	if vc.Address == "" {
		return vc, fmt.Errorf("%w: vault address is required", interfaces.ErrInvalidConfig)
	}
	return vc, nil
}

func (p *VaultPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	vc, err := p.parse(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewVaultBackend(vc, p.log)
}

// IPFSPlugin creates IPFS MFS backends. Options: api, root, timeout.
type IPFSPlugin struct {
	log *slog.Logger
}

func (p *IPFSPlugin) Name() string        { return IPFSPluginName }
func (p *IPFSPlugin) Version() string     { return common.Version }
func (p *IPFSPlugin) Description() string { return "IPFS node mutable file system" }

func (p *IPFSPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return err
	}
	if opts.String("api", "") == "" {
		return fmt.Errorf("%w: ipfs api address is required", interfaces.ErrInvalidConfig)
	}
	_, err = opts.Duration("timeout", 0)
	return err
}

func (p *IPFSPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return nil, err
	}
	timeout, err := opts.Duration("timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	b, err := storage.NewIPFSBackend(opts.String("api", ""), opts.String("root", ""), timeout, p.log)
	if err != nil {
		return nil, err
	}
	if !b.Available(ctx) {
		return nil, fmt.Errorf("%w: ipfs node at %s is not reachable", interfaces.ErrConnectionFailed, opts.String("api", ""))
	}
	return b, nil
}

// PostgresPlugin creates table backends. Options: dsn, table,
// max_open_conns, max_retries, retry_delay.
type PostgresPlugin struct {
	log *slog.Logger
}

func (p *PostgresPlugin) Name() string        { return PostgresPluginName }
func (p *PostgresPlugin) Version() string     { return common.Version }
func (p *PostgresPlugin) Description() string { return "PostgreSQL key-value table" }

func (p *PostgresPlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	_, err := p.parse(cfg)
	return err
}

func (p *PostgresPlugin) parse(cfg interfaces.BackendConfig) (storage.PostgresConfig, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return storage.PostgresConfig{}, err
	}
	pc := storage.PostgresConfig{
		DSN:   opts.String("dsn", ""),
		Table: opts.String("table", "node_storage"),
	}
	if pc.MaxOpenConns, err = opts.Int("max_open_conns", storage.DefaultPoolSize); err != nil {
		return pc, err
	}
	if pc.Retry.MaxAttempts, err = opts.Int("max_retries", storage.DefaultMaxRetries); err != nil {
		return pc, err
	}
	if pc.Retry.BaseDelay, err = opts.Duration("retry_delay", storage.DefaultRetryDelay); err != nil {
		return pc, err
	}
	if pc.DSN == "" {
		return pc, fmt.Errorf("%w: postgres dsn is required", interfaces.ErrInvalidConfig)
	}
	return pc, nil
}

func (p *PostgresPlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	pc, err := p.parse(cfg)
	if err != nil {
		return nil, err
	}
	return storage.NewPostgresBackend(ctx, pc, p.log)
}

// RemotePlugin creates backends that proxy to another agent's HTTP API.
// Options: url, timeout.
type RemotePlugin struct {
	log *slog.Logger
}

func (p *RemotePlugin) Name() string        { return RemotePluginName }
func (p *RemotePlugin) Version() string     { return common.Version }
func (p *RemotePlugin) Description() string { return "Another node agent's storage HTTP API" }

func (p *RemotePlugin) ValidateConfig(cfg interfaces.BackendConfig) error {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return err
	}
	if opts.String("url", "") == "" {
		return fmt.Errorf("%w: remote url is required", interfaces.ErrInvalidConfig)
	}
	_, err = opts.Duration("timeout", 0)
	return err
}

func (p *RemotePlugin) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	opts, err := customOptions(p.Name(), cfg)
	if err != nil {
		return nil, err
	}
	timeout, err := opts.Duration("timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	return clients.NewStorageClient(opts.String("url", ""), timeout)
}
