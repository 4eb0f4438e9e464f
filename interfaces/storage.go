package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConsistencyLevel is the freshness/ordering guarantee a caller requests for a
// single operation. Backends that cannot distinguish levels document what they
// actually provide instead of degrading silently.
type ConsistencyLevel int

const (
	// Strong: a read returns the most recent acknowledged write.
	Strong ConsistencyLevel = iota
	// Eventual: writes return once the primary acknowledged them, reads may be stale.
	Eventual
	// ReadYourWrites: a session observes its own writes.
	ReadYourWrites
	// Causal: causally related writes are observed in order.
	Causal
)

// String returns the canonical lower-case name of the level.
func (c ConsistencyLevel) String() string {
	switch c {
	case Strong:
		return "strong"
	case Eventual:
		return "eventual"
	case ReadYourWrites:
		return "read_your_writes"
	case Causal:
		return "causal"
	default:
		return "unknown"
	}
}

// ParseConsistencyLevel converts a name (as produced by String) into a level.
// An empty string yields Strong.
func ParseConsistencyLevel(s string) (ConsistencyLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strong":
		return Strong, nil
	case "eventual":
		return Eventual, nil
	case "read_your_writes", "read-your-writes", "ryw":
		return ReadYourWrites, nil
	case "causal":
		return Causal, nil
	default:
		return Strong, fmt.Errorf("%w: unknown consistency level %q", ErrInvalidConfig, s)
	}
}

// ValidateKey checks the storage key invariant: non-empty, no path separators,
// no parent directory references and no leading dot. Keys are validated before
// any I/O so they can be mapped onto file names safely.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	if strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: key %q contains a path separator", ErrInvalidKey, key)
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("%w: key %q contains a parent directory reference", ErrInvalidKey, key)
	}
	if strings.HasPrefix(key, ".") {
		return fmt.Errorf("%w: key %q starts with a dot", ErrInvalidKey, key)
	}
	if strings.ContainsRune(key, 0) {
		return fmt.Errorf("%w: key %q contains a NUL byte", ErrInvalidKey, key)
	}
	return nil
}

var (
	// ErrInvalidKey is returned when a key violates the storage key invariant.
	ErrInvalidKey = errors.New("invalid storage key")

	// ErrInvalidConfig is returned when a backend configuration or policy is malformed.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when a networked backend exhausted its retries.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInitializationFailed is returned when a plugin could not construct its backend.
	ErrInitializationFailed = errors.New("initialization failed")

	// ErrBackendNotFound is returned when a policy references an unregistered backend.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrBackendAlreadyExists is returned when a backend name is registered twice.
	ErrBackendAlreadyExists = errors.New("backend already exists")

	// ErrNoBackends is returned when a policy resolves to no usable backend.
	ErrNoBackends = errors.New("no backends available")

	// ErrPluginNotFound is returned when no plugin is registered under a name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrPluginAlreadyExists is returned when a plugin name is registered twice.
	ErrPluginAlreadyExists = errors.New("plugin already exists")

	// ErrReadOnly is returned by backends that were configured without write access.
	ErrReadOnly = errors.New("backend is read-only")
)

// BackendError attributes a backend-native error to the backend that produced it.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// StorageBackend is the capability every concrete storage medium implements.
//
// Get reports an absent key with found == false and a nil error. Put makes the
// value retrievable by a later Get at the same or a stronger consistency level.
// Delete of an absent key succeeds.
type StorageBackend interface {
	// Get retrieves the value stored under key.
	Get(ctx context.Context, key string, consistency ConsistencyLevel) (value []byte, found bool, err error)

	// Put stores value under key.
	Put(ctx context.Context, key string, value []byte, consistency ConsistencyLevel) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string, consistency ConsistencyLevel) error

	// Available checks if backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string
}
