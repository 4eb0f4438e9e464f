package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
	"go.uber.org/atomic"
)

// BackendFactory turns a backend configuration into a live backend.
// *registry.Registry implements it.
type BackendFactory interface {
	Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error)
}

// CustomStrategy orders candidate backends for a Custom policy. Names it
// returns that are not registered or disabled are skipped.
type CustomStrategy func(ctx context.Context, tag string, backends []BackendInfo) ([]string, error)

// BackendInfo describes a registered backend.
type BackendInfo struct {
	Name     string `json:"name"`
	Plugin   string `json:"plugin"`
	Backend  string `json:"backend"`
	Priority int32  `json:"priority"`
	Enabled  bool   `json:"enabled"`
}

type registeredBackend struct {
	name     string
	plugin   string
	backend  interfaces.StorageBackend
	priority int32
	enabled  bool
}

// backendSet is immutable once published; topology changes publish a copy.
type backendSet map[string]*registeredBackend

// Option configures a Manager.
type Option func(*Manager)

// WithMetricsSink forwards per-backend timings to sink.
func WithMetricsSink(sink interfaces.MetricsSink) Option {
	return func(m *Manager) { m.sink = sink }
}

// WithPolicy sets the initial routing policy.
func WithPolicy(p interfaces.StoragePolicy) Option {
	p.Backends = append([]string(nil), p.Backends...)
	return func(m *Manager) { m.policy.Store(&p) }
}

// WithCustomStrategy sets the strategy consulted by Custom policies.
func WithCustomStrategy(fn CustomStrategy) Option {
	return func(m *Manager) { m.custom.Store(&fn) }
}

// Manager routes logical get/put/delete calls to named backends according to
// the active policy and records metrics for every call.
//
// Reads of the backend set, the policy and the counters never take a lock;
// AddBackend and RemoveBackend serialize among themselves and publish a new
// backend set atomically, so an in-flight operation sees either the old or the
// new topology.
type Manager struct {
	factory BackendFactory
	log     *slog.Logger
	sink    interfaces.MetricsSink
	metrics *Metrics

	topologyMu sync.Mutex
	backends   atomic.Pointer[backendSet]
	policy     atomic.Pointer[interfaces.StoragePolicy]
	custom     atomic.Pointer[CustomStrategy]
	rrCursor   atomic.Uint64
}

// New creates a manager with no backends and the default policy
// (FirstAvailable over "local").
func New(factory BackendFactory, log *slog.Logger, opts ...Option) (*Manager, error) {
	log = common.LoggerOrDefault(log)
	m := &Manager{
		factory: factory,
		log:     log,
		metrics: newMetrics(),
	}
	empty := backendSet{}
	m.backends.Store(&empty)
	def := interfaces.DefaultPolicy()
	m.policy.Store(&def)

	for _, opt := range opts {
		opt(m)
	}

	if err := m.Policy().Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// AddBackend instantiates cfg through the factory and registers it under
// cfg.Name. A disabled backend is created and registered but skipped by every
// policy until enabled.
func (m *Manager) AddBackend(ctx context.Context, cfg interfaces.NamedBackendConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.factory == nil {
		return fmt.Errorf("%w: manager has no backend factory", interfaces.ErrInvalidConfig)
	}

	m.topologyMu.Lock()
	defer m.topologyMu.Unlock()

	if _, exists := (*m.backends.Load())[cfg.Name]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrBackendAlreadyExists, cfg.Name)
	}

	start := time.Now()
	backend, err := m.factory.Create(ctx, cfg.Config)
	if err != nil {
		m.log.Error("Failed to create storage backend",
			slog.String("backend", cfg.Name),
			slog.String("plugin", cfg.Config.PluginName()),
			"err", err)
		return fmt.Errorf("backend %s: %w", cfg.Name, err)
	}

	m.publish(&registeredBackend{
		name:     cfg.Name,
		plugin:   cfg.Config.PluginName(),
		backend:  backend,
		priority: cfg.Priority,
		enabled:  cfg.Enabled,
	})

	m.log.Info("Added storage backend",
		slog.String("backend", cfg.Name),
		slog.String("plugin", cfg.Config.PluginName()),
		slog.Bool("enabled", cfg.Enabled),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// AddBackendInstance registers an already constructed backend.
func (m *Manager) AddBackendInstance(name string, backend interfaces.StorageBackend, priority int32, enabled bool) error {
	if name == "" || backend == nil {
		return fmt.Errorf("%w: backend name and instance are required", interfaces.ErrInvalidConfig)
	}

	m.topologyMu.Lock()
	defer m.topologyMu.Unlock()

	if _, exists := (*m.backends.Load())[name]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrBackendAlreadyExists, name)
	}
	m.publish(&registeredBackend{
		name:     name,
		plugin:   "instance",
		backend:  backend,
		priority: priority,
		enabled:  enabled,
	})
	return nil
}

// publish must be called with topologyMu held.
func (m *Manager) publish(rb *registeredBackend) {
	current := *m.backends.Load()
	next := make(backendSet, len(current)+1)
	for k, v := range current {
		next[k] = v
	}
	next[rb.name] = rb
	m.backends.Store(&next)
}

// RemoveBackend unregisters name and closes the backend if it holds resources.
func (m *Manager) RemoveBackend(name string) error {
	m.topologyMu.Lock()
	current := *m.backends.Load()
	rb, exists := current[name]
	if !exists {
		m.topologyMu.Unlock()
		return fmt.Errorf("%w: %s", interfaces.ErrBackendNotFound, name)
	}
	next := make(backendSet, len(current))
	for k, v := range current {
		if k != name {
			next[k] = v
		}
	}
	m.backends.Store(&next)
	m.topologyMu.Unlock()

	m.log.Info("Removed storage backend", slog.String("backend", name))

	if closer, ok := rb.backend.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return &interfaces.BackendError{Backend: name, Op: "close", Err: err}
		}
	}
	return nil
}

// SetBackendEnabled toggles whether policies may route to name.
func (m *Manager) SetBackendEnabled(name string, enabled bool) error {
	m.topologyMu.Lock()
	defer m.topologyMu.Unlock()

	rb, exists := (*m.backends.Load())[name]
	if !exists {
		return fmt.Errorf("%w: %s", interfaces.ErrBackendNotFound, name)
	}
	updated := *rb
	updated.enabled = enabled
	m.publish(&updated)
	return nil
}

// HasBackend reports whether name is registered.
func (m *Manager) HasBackend(name string) bool {
	_, ok := (*m.backends.Load())[name]
	return ok
}

// ListBackends returns the registered backends by descending priority, then name.
func (m *Manager) ListBackends() []BackendInfo {
	set := *m.backends.Load()
	infos := make([]BackendInfo, 0, len(set))
	for _, rb := range set {
		infos = append(infos, rb.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Priority != infos[j].Priority {
			return infos[i].Priority > infos[j].Priority
		}
		return infos[i].Name < infos[j].Name
	})
	return infos
}

func (rb *registeredBackend) info() BackendInfo {
	return BackendInfo{
		Name:     rb.name,
		Plugin:   rb.plugin,
		Backend:  rb.backend.Name(),
		Priority: rb.priority,
		Enabled:  rb.enabled,
	}
}

// SetPolicy replaces the routing policy for operations that start afterwards.
func (m *Manager) SetPolicy(p interfaces.StoragePolicy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	p.Backends = append([]string(nil), p.Backends...)
	m.policy.Store(&p)
	m.log.Info("Storage policy changed", slog.String("policy", p.String()))
	return nil
}

// Policy returns the active routing policy.
func (m *Manager) Policy() interfaces.StoragePolicy {
	return *m.policy.Load()
}

// SetCustomStrategy replaces the strategy consulted by Custom policies.
func (m *Manager) SetCustomStrategy(fn CustomStrategy) {
	m.custom.Store(&fn)
}

// Metrics returns a snapshot of the counters.
func (m *Manager) Metrics() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// ResetMetrics zeroes every counter.
func (m *Manager) ResetMetrics() {
	m.metrics.Reset()
}

// Available reports whether any enabled backend is reachable.
func (m *Manager) Available(ctx context.Context) bool {
	for _, rb := range *m.backends.Load() {
		if rb.enabled && rb.backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Close closes every backend that holds resources.
func (m *Manager) Close() error {
	m.topologyMu.Lock()
	set := *m.backends.Load()
	empty := backendSet{}
	m.backends.Store(&empty)
	m.topologyMu.Unlock()

	var errs []error
	for name, rb := range set {
		if closer, ok := rb.backend.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, &interfaces.BackendError{Backend: name, Op: "close", Err: err})
			}
		}
	}
	return errors.Join(errs...)
}
