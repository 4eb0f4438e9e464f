package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/node-storage/interfaces"
	"golang.org/x/sync/errgroup"
)

const (
	opGet    = "get"
	opPut    = "put"
	opDelete = "delete"
)

// Get retrieves key through the active policy. found is false when no
// consulted backend holds the key.
func (m *Manager) Get(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) (value []byte, found bool, err error) {
	start := time.Now()
	defer func() { m.finish(opGet, key, start, err) }()

	if err = interfaces.ValidateKey(key); err != nil {
		return nil, false, err
	}

	set := *m.backends.Load()
	policy := m.Policy()

	switch policy.Kind {
	case interfaces.PolicyPreferCache:
		return m.getPreferCache(ctx, set, policy, key, consistency)
	case interfaces.PolicyRedundant:
		return m.getFirst(ctx, set.usable(policy.Backends), key, consistency, true, false)
	case interfaces.PolicyFirstAvailable, interfaces.PolicyCustom:
		candidates, err := m.candidates(ctx, set, policy)
		if err != nil {
			return nil, false, err
		}
		return m.getFirst(ctx, candidates, key, consistency, false, true)
	default:
		rb, err := m.pickSingle(set, policy)
		if err != nil {
			return nil, false, err
		}
		return m.getFrom(ctx, rb, key, consistency)
	}
}

// Put stores value under key through the active policy.
func (m *Manager) Put(ctx context.Context, key string, value []byte, consistency interfaces.ConsistencyLevel) (err error) {
	start := time.Now()
	defer func() { m.finish(opPut, key, start, err) }()

	if err = interfaces.ValidateKey(key); err != nil {
		return err
	}

	write := func(ctx context.Context, rb *registeredBackend) error {
		return m.attempt(rb, opPut, func() error {
			return rb.backend.Put(ctx, key, value, consistency)
		})
	}
	return m.write(ctx, opPut, key, write)
}

// Delete removes key through the active policy. Deleting an absent key succeeds.
func (m *Manager) Delete(ctx context.Context, key string, consistency interfaces.ConsistencyLevel) (err error) {
	start := time.Now()
	defer func() { m.finish(opDelete, key, start, err) }()

	if err = interfaces.ValidateKey(key); err != nil {
		return err
	}

	write := func(ctx context.Context, rb *registeredBackend) error {
		return m.attempt(rb, opDelete, func() error {
			return rb.backend.Delete(ctx, key, consistency)
		})
	}
	return m.write(ctx, opDelete, key, write)
}

// write routes a mutation. Put and Delete share every routing rule.
func (m *Manager) write(ctx context.Context, op, key string, fn func(context.Context, *registeredBackend) error) error {
	set := *m.backends.Load()
	policy := m.Policy()

	switch policy.Kind {
	case interfaces.PolicyPreferCache:
		cache, primary, err := set.cacheAndPrimary(policy)
		if err != nil {
			return err
		}
		if cache == nil {
			return fn(ctx, primary)
		}
		// The cache is cleared before the primary changes and must not hold
		// the old value once the call returns.
		if err := m.invalidate(ctx, cache, key); err != nil {
			return err
		}
		if err := fn(ctx, primary); err != nil {
			return err
		}
		if err := fn(ctx, cache); err != nil {
			m.log.Warn("Cache update failed",
				slog.String("op", op),
				slog.String("backend", cache.name),
				"err", err)
			if op == opDelete {
				return err
			}
			if err := m.invalidate(ctx, cache, key); err != nil {
				return err
			}
		}
		return nil

	case interfaces.PolicyRedundant:
		return m.writeAll(ctx, op, set.usable(policy.Backends), fn)

	case interfaces.PolicyFirstAvailable, interfaces.PolicyCustom:
		candidates, err := m.candidates(ctx, set, policy)
		if err != nil {
			return err
		}
		var lastErr error
		for _, rb := range candidates {
			if !m.healthy(ctx, rb) {
				continue
			}
			if err := fn(ctx, rb); err != nil {
				lastErr = err
				continue
			}
			return nil
		}
		if lastErr != nil {
			return lastErr
		}
		return fmt.Errorf("%w: no healthy backend among %v", interfaces.ErrNoBackends, policy.Names())

	default:
		rb, err := m.pickSingle(set, policy)
		if err != nil {
			return err
		}
		return fn(ctx, rb)
	}
}

// invalidate drops key from a cache backend.
func (m *Manager) invalidate(ctx context.Context, cache *registeredBackend, key string) error {
	return m.attempt(cache, opDelete, func() error {
		return cache.backend.Delete(ctx, key, interfaces.Strong)
	})
}

// writeAll fans a mutation out to every backend concurrently. It succeeds if
// at least one backend succeeded; absorbed failures stay in the metrics.
func (m *Manager) writeAll(ctx context.Context, op string, backends []*registeredBackend, fn func(context.Context, *registeredBackend) error) error {
	if len(backends) == 0 {
		return fmt.Errorf("%w: redundant policy has no usable backend", interfaces.ErrNoBackends)
	}

	errs := make([]error, len(backends))
	var g errgroup.Group
	for i, rb := range backends {
		i, rb := i, rb
		g.Go(func() error {
			errs[i] = fn(ctx, rb)
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for i, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		m.log.Warn("Redundant write failed on backend",
			slog.String("op", op),
			slog.String("backend", backends[i].name),
			"err", err)
	}
	if succeeded == 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) getFrom(ctx context.Context, rb *registeredBackend, key string, consistency interfaces.ConsistencyLevel) ([]byte, bool, error) {
	var (
		value []byte
		found bool
	)
	err := m.attempt(rb, opGet, func() error {
		var err error
		value, found, err = rb.backend.Get(ctx, key, consistency)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return value, found, nil
}

// getFirst returns the first successful read. With missFallsThrough a miss
// moves on to the next backend, otherwise a miss answers the call.
func (m *Manager) getFirst(ctx context.Context, candidates []*registeredBackend, key string, consistency interfaces.ConsistencyLevel, missFallsThrough, checkHealth bool) ([]byte, bool, error) {
	var (
		lastErr error
		missed  bool
	)
	for _, rb := range candidates {
		if checkHealth && !m.healthy(ctx, rb) {
			continue
		}
		value, found, err := m.getFrom(ctx, rb, key, consistency)
		if err != nil {
			lastErr = err
			continue
		}
		if found || !missFallsThrough {
			return value, found, nil
		}
		missed = true
	}

	switch {
	case missed:
		return nil, false, nil
	case lastErr != nil:
		return nil, false, lastErr
	default:
		return nil, false, fmt.Errorf("%w: no usable backend for read", interfaces.ErrNoBackends)
	}
}

func (m *Manager) getPreferCache(ctx context.Context, set backendSet, policy interfaces.StoragePolicy, key string, consistency interfaces.ConsistencyLevel) ([]byte, bool, error) {
	cache, primary, err := set.cacheAndPrimary(policy)
	if err != nil {
		return nil, false, err
	}

	if cache != nil {
		value, found, err := m.getFrom(ctx, cache, key, consistency)
		hit := err == nil && found
		m.metrics.recordCacheLookup(hit)
		if m.sink != nil {
			m.sink.ObserveCacheLookup(cache.name, hit)
		}
		if hit {
			return value, true, nil
		}
	}

	value, found, err := m.getFrom(ctx, primary, key, consistency)
	if err != nil || !found || cache == nil {
		return value, found, err
	}

	if err := m.attempt(cache, opPut, func() error {
		return cache.backend.Put(ctx, key, value, interfaces.Eventual)
	}); err != nil {
		m.log.Warn("Cache population failed", slog.String("backend", cache.name), "err", err)
	}
	return value, true, nil
}

// pickSingle resolves AlwaysUse and RoundRobin to exactly one backend.
func (m *Manager) pickSingle(set backendSet, policy interfaces.StoragePolicy) (*registeredBackend, error) {
	if len(policy.Backends) == 0 {
		return nil, fmt.Errorf("%w: %s lists no backends", interfaces.ErrNoBackends, policy.Kind)
	}

	name := policy.Backends[0]
	if policy.Kind == interfaces.PolicyRoundRobin {
		idx := (m.rrCursor.Inc() - 1) % uint64(len(policy.Backends))
		name = policy.Backends[idx]
	}

	rb, ok := set[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interfaces.ErrBackendNotFound, name)
	}
	if !rb.enabled {
		return nil, fmt.Errorf("%w: backend %s is disabled", interfaces.ErrNoBackends, name)
	}
	return rb, nil
}

// candidates returns the ordered backends for FirstAvailable and Custom.
func (m *Manager) candidates(ctx context.Context, set backendSet, policy interfaces.StoragePolicy) ([]*registeredBackend, error) {
	if policy.Kind != interfaces.PolicyCustom {
		return set.usable(policy.Backends), nil
	}

	fn := m.custom.Load()
	if fn == nil || *fn == nil {
		return nil, fmt.Errorf("%w: no strategy for custom policy %q", interfaces.ErrNoBackends, policy.Tag)
	}

	infos := make([]BackendInfo, 0, len(set))
	for _, rb := range set {
		if rb.enabled {
			infos = append(infos, rb.info())
		}
	}
	names, err := (*fn)(ctx, policy.Tag, infos)
	if err != nil {
		return nil, fmt.Errorf("custom policy %q: %w", policy.Tag, err)
	}
	return set.usable(names), nil
}

func (m *Manager) healthy(ctx context.Context, rb *registeredBackend) bool {
	if rb.backend.Available(ctx) {
		return true
	}
	m.log.Debug("Backend unavailable", slog.String("backend", rb.name))
	return false
}

// attempt runs one backend call, records it and attributes its error.
func (m *Manager) attempt(rb *registeredBackend, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.metrics.recordBackend(rb.name, err)
	if m.sink != nil {
		m.sink.ObserveOperation(op, rb.name, time.Since(start), err)
	}
	if err != nil {
		return &interfaces.BackendError{Backend: rb.name, Op: op, Err: err}
	}
	return nil
}

func (m *Manager) finish(op, key string, start time.Time, err error) {
	m.metrics.recordCall(err)
	if err != nil {
		m.log.Warn("Storage operation failed",
			slog.String("op", op),
			slog.String("key", key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return
	}
	m.log.Debug("Storage operation completed",
		slog.String("op", op),
		slog.String("key", key),
		slog.Duration("duration", time.Since(start)))
}

// usable returns the registered, enabled backends among names, in order.
func (s backendSet) usable(names []string) []*registeredBackend {
	out := make([]*registeredBackend, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if rb, ok := s[name]; ok && rb.enabled {
			out = append(out, rb)
		}
	}
	return out
}

// cacheAndPrimary resolves a PreferCache policy. A missing cache degrades to
// primary only; a missing primary lets the cache act as primary.
func (s backendSet) cacheAndPrimary(policy interfaces.StoragePolicy) (cache, primary *registeredBackend, err error) {
	if rb, ok := s[policy.Cache]; ok && rb.enabled {
		cache = rb
	}
	if rb, ok := s[policy.Primary]; ok && rb.enabled {
		primary = rb
	}
	switch {
	case primary != nil:
		return cache, primary, nil
	case cache != nil:
		return nil, cache, nil
	default:
		return nil, nil, fmt.Errorf("%w: neither %s nor %s is usable", interfaces.ErrBackendNotFound, policy.Cache, policy.Primary)
	}
}
