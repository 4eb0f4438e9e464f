package interfaces

import (
	"context"
	"time"
)

// StoragePlugin turns a declarative BackendConfig into a live StorageBackend.
type StoragePlugin interface {
	// Name is the unique registry key and matches BackendConfig.PluginName.
	Name() string

	Version() string

	Description() string

	// ValidateConfig rejects configurations this plugin cannot serve. It must
	// not perform I/O.
	ValidateConfig(cfg BackendConfig) error

	// Create instantiates the backend. Network backends verify liveness here.
	Create(ctx context.Context, cfg BackendConfig) (StorageBackend, error)
}

// MetricsSink receives per-backend operation timings from the storage manager.
// The exposition format is the sink's business.
type MetricsSink interface {
	ObserveOperation(op string, backend string, duration time.Duration, err error)
	ObserveCacheLookup(backend string, hit bool)
}
