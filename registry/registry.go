package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/node-storage/common"
	"github.com/ruteri/node-storage/interfaces"
)

// PluginInfo describes a registered plugin.
type PluginInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// Registry maps plugin names to plugins and turns backend configurations into
// live backends. It is safe for concurrent use; plugins are normally
// registered once at startup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]interfaces.StoragePlugin
	log     *slog.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	log = common.LoggerOrDefault(log)
	return &Registry{
		plugins: make(map[string]interfaces.StoragePlugin),
		log:     log,
	}
}

// NewDefaultRegistry returns a registry with every built-in plugin registered.
func NewDefaultRegistry(log *slog.Logger) *Registry {
	r := NewRegistry(log)
	for _, p := range BuiltinPlugins(log) {
		if err := r.Register(p); err != nil {
			// Built-in names are unique.
			panic(err)
		}
	}
	return r
}

// Register adds a plugin. A second plugin under an existing name is rejected
// with interfaces.ErrPluginAlreadyExists and the first stays registered.
func (r *Registry) Register(p interfaces.StoragePlugin) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: plugin must have a name", interfaces.ErrInvalidConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.Name()]; exists {
		return fmt.Errorf("%w: %s", interfaces.ErrPluginAlreadyExists, p.Name())
	}
	r.plugins[p.Name()] = p

	r.log.Debug("Registered storage plugin",
		slog.String("plugin", p.Name()),
		slog.String("version", p.Version()))
	return nil
}

// Unregister removes a plugin. Backends it already created are unaffected.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[name]; !exists {
		return fmt.Errorf("%w: %s", interfaces.ErrPluginNotFound, name)
	}
	delete(r.plugins, name)
	return nil
}

// Plugin returns the plugin registered under name.
func (r *Registry) Plugin(name string) (interfaces.StoragePlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrPluginNotFound, name)
	}
	return p, nil
}

// List returns the registered plugins sorted by name.
func (r *Registry) List() []PluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]PluginInfo, 0, len(r.plugins))
	for _, p := range r.plugins {
		infos = append(infos, PluginInfo{Name: p.Name(), Version: p.Version(), Description: p.Description()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Create validates cfg with the plugin it names and instantiates the backend.
func (r *Registry) Create(ctx context.Context, cfg interfaces.BackendConfig) (interfaces.StorageBackend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: backend configuration is required", interfaces.ErrInvalidConfig)
	}

	p, err := r.Plugin(cfg.PluginName())
	if err != nil {
		return nil, err
	}

	if err := p.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	backend, err := p.Create(ctx, cfg)
	if err != nil {
		if errors.Is(err, interfaces.ErrInvalidConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: plugin %s: %w", interfaces.ErrInitializationFailed, p.Name(), err)
	}
	return backend, nil
}
