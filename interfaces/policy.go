package interfaces

import (
	"fmt"
	"strings"
)

// PolicyKind selects how a logical operation is routed across backends.
type PolicyKind int

const (
	PolicyAlwaysUse PolicyKind = iota
	PolicyFirstAvailable
	PolicyPreferCache
	PolicyRedundant
	PolicyRoundRobin
	PolicyCustom
)

func (k PolicyKind) String() string {
	switch k {
	case PolicyAlwaysUse:
		return "always_use"
	case PolicyFirstAvailable:
		return "first_available"
	case PolicyPreferCache:
		return "prefer_cache"
	case PolicyRedundant:
		return "redundant"
	case PolicyRoundRobin:
		return "round_robin"
	case PolicyCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParsePolicyKind converts a name (as produced by String) into a kind.
func ParsePolicyKind(s string) (PolicyKind, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "always_use":
		return PolicyAlwaysUse, nil
	case "first_available":
		return PolicyFirstAvailable, nil
	case "prefer_cache":
		return PolicyPreferCache, nil
	case "redundant":
		return PolicyRedundant, nil
	case "round_robin":
		return PolicyRoundRobin, nil
	case "custom":
		return PolicyCustom, nil
	default:
		return 0, fmt.Errorf("%w: unknown policy %q", ErrInvalidConfig, s)
	}
}

// StoragePolicy is stateless routing configuration. Mutable routing state such
// as the round-robin cursor is owned by the storage manager.
type StoragePolicy struct {
	Kind PolicyKind

	// Backends lists the candidates of AlwaysUse (exactly one), FirstAvailable,
	// Redundant and RoundRobin, in order.
	Backends []string

	// Cache and Primary are used by PreferCache.
	Cache   string
	Primary string

	// Tag is handed to the injected strategy of a Custom policy.
	Tag string
}

func AlwaysUse(name string) StoragePolicy {
	return StoragePolicy{Kind: PolicyAlwaysUse, Backends: []string{name}}
}

func FirstAvailable(names ...string) StoragePolicy {
	return StoragePolicy{Kind: PolicyFirstAvailable, Backends: append([]string(nil), names...)}
}

func PreferCache(cache, primary string) StoragePolicy {
	return StoragePolicy{Kind: PolicyPreferCache, Cache: cache, Primary: primary}
}

func Redundant(names ...string) StoragePolicy {
	return StoragePolicy{Kind: PolicyRedundant, Backends: append([]string(nil), names...)}
}

func RoundRobin(names ...string) StoragePolicy {
	return StoragePolicy{Kind: PolicyRoundRobin, Backends: append([]string(nil), names...)}
}

func CustomPolicy(tag string) StoragePolicy {
	return StoragePolicy{Kind: PolicyCustom, Tag: tag}
}

// DefaultPolicy routes everything to a backend named "local".
func DefaultPolicy() StoragePolicy {
	return FirstAvailable(LocalPluginName)
}

// Validate checks the shape of the policy. It does not check that the named
// backends exist; that is resolved per call.
func (p StoragePolicy) Validate() error {
	switch p.Kind {
	case PolicyAlwaysUse:
		if len(p.Backends) != 1 || p.Backends[0] == "" {
			return fmt.Errorf("%w: always_use needs exactly one backend", ErrInvalidConfig)
		}
	case PolicyFirstAvailable, PolicyRedundant, PolicyRoundRobin:
		for _, name := range p.Backends {
			if name == "" {
				return fmt.Errorf("%w: %s lists an empty backend name", ErrInvalidConfig, p.Kind)
			}
		}
	case PolicyPreferCache:
		if p.Cache == "" || p.Primary == "" {
			return fmt.Errorf("%w: prefer_cache needs both cache and primary", ErrInvalidConfig)
		}
		if p.Cache == p.Primary {
			return fmt.Errorf("%w: prefer_cache cache and primary must differ", ErrInvalidConfig)
		}
	case PolicyCustom:
	default:
		return fmt.Errorf("%w: unknown policy kind %d", ErrInvalidConfig, p.Kind)
	}
	return nil
}

// Names returns every backend name the policy references.
func (p StoragePolicy) Names() []string {
	if p.Kind == PolicyPreferCache {
		return []string{p.Cache, p.Primary}
	}
	return append([]string(nil), p.Backends...)
}

func (p StoragePolicy) String() string {
	switch p.Kind {
	case PolicyPreferCache:
		return fmt.Sprintf("%s(cache=%s, primary=%s)", p.Kind, p.Cache, p.Primary)
	case PolicyCustom:
		return fmt.Sprintf("%s(%s)", p.Kind, p.Tag)
	default:
		return fmt.Sprintf("%s(%s)", p.Kind, strings.Join(p.Backends, ","))
	}
}
