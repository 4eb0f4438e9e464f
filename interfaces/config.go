package interfaces

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Names of the built-in plugins a BackendConfig can resolve to.
const (
	LocalPluginName     = "local"
	NetworkedPluginName = "redis"
)

// BackendConfig is the declarative description of one backend instance. It is
// one of LocalConfig, NetworkedConfig or CustomConfig and is consumed once by
// the storage registry.
type BackendConfig interface {
	// PluginName selects the plugin that turns this configuration into a backend.
	PluginName() string
}

// LocalConfig configures the file-per-key backend.
type LocalConfig struct {
	Path string
}

func (LocalConfig) PluginName() string { return LocalPluginName }

// Credentials authenticate against a remote service.
type Credentials struct {
	Username string
	Password string
}

// NetworkedConfig configures a backend fronting a remote key-value service.
type NetworkedConfig struct {
	// Endpoint is a service URL, e.g. redis://localhost:6379/0
	Endpoint    string
	Credentials Credentials

	// Timeout bounds a single network round-trip.
	Timeout time.Duration

	// MaxRetries is the number of attempts per operation, RetryDelay the
	// initial backoff which doubles after every failed attempt.
	MaxRetries int
	RetryDelay time.Duration

	// PoolSize bounds concurrent connections; operations beyond it queue.
	PoolSize int

	// KeyPrefix namespaces keys on a shared service.
	KeyPrefix string

	// MinReplicas is the number of replicas a Strong write waits for.
	MinReplicas int
}

func (NetworkedConfig) PluginName() string { return NetworkedPluginName }

// CustomConfig hands an opaque option map to a plugin registered under Plugin.
type CustomConfig struct {
	Plugin  string
	Options Options
}

func (c CustomConfig) PluginName() string { return c.Plugin }

// Options is the opaque configuration of a custom plugin.
type Options map[string]any

// String returns the option as a string, or def when it is not set.
func (o Options) String(key, def string) string {
	v, ok := o[key]
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Int returns the option as an int, or def when it is not set.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case uint64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def, fmt.Errorf("%w: option %s: %v", ErrInvalidConfig, key, err)
		}
		return n, nil
	default:
		return def, fmt.Errorf("%w: option %s has unsupported type %T", ErrInvalidConfig, key, v)
	}
}

// Bool returns the option as a bool, or def when it is not set.
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return def, fmt.Errorf("%w: option %s: %v", ErrInvalidConfig, key, err)
		}
		return b, nil
	default:
		return def, fmt.Errorf("%w: option %s has unsupported type %T", ErrInvalidConfig, key, v)
	}
}

// Duration returns the option as a duration, or def when it is not set.
// Strings are parsed with time.ParseDuration, numbers are taken as seconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch t := v.(type) {
	case time.Duration:
		return t, nil
	case int:
		return time.Duration(t) * time.Second, nil
	case float64:
		return time.Duration(t * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(strings.TrimSpace(t))
		if err != nil {
			return def, fmt.Errorf("%w: option %s: %v", ErrInvalidConfig, key, err)
		}
		return d, nil
	default:
		return def, fmt.Errorf("%w: option %s has unsupported type %T", ErrInvalidConfig, key, v)
	}
}

// NamedBackendConfig is a BackendConfig together with the registration
// attributes the storage manager keeps for it.
type NamedBackendConfig struct {
	Name     string
	Config   BackendConfig
	Priority int32
	Enabled  bool
}

// Validate checks the registration attributes, not the backend configuration
// itself (that is the plugin's job).
func (c NamedBackendConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: backend name cannot be empty", ErrInvalidConfig)
	}
	if c.Config == nil {
		return fmt.Errorf("%w: backend %s has no configuration", ErrInvalidConfig, c.Name)
	}
	if c.Config.PluginName() == "" {
		return fmt.Errorf("%w: backend %s has no plugin name", ErrInvalidConfig, c.Name)
	}
	return nil
}
