// Package interfaces defines the storage contract of the node agent,
// separating interface definitions from implementations.
//
// # Storage Contract
//
// StorageBackend: get/put/delete on opaque byte values under validated string
// keys, each call carrying a ConsistencyLevel. An absent key is reported as
// found == false rather than as an error, and deleting an absent key succeeds.
//
// ConsistencyLevel: Strong, Eventual, ReadYourWrites or Causal. It is a
// contract parameter interpreted by each backend; a backend that cannot tell
// the levels apart documents the level it actually provides.
//
// # Configuration Types
//
// BackendConfig: LocalConfig, NetworkedConfig or CustomConfig, consumed once by
// a StoragePlugin to create a backend.
//
// StoragePolicy: AlwaysUse, FirstAvailable, PreferCache, Redundant, RoundRobin
// or Custom routing across named backends.
//
// # Errors
//
// Validation (ErrInvalidKey, ErrInvalidConfig), transient I/O surfaced after
// retries (ErrConnectionFailed) and topology mistakes (ErrBackendNotFound,
// ErrNoBackends, ErrPluginNotFound, ErrPluginAlreadyExists,
// ErrBackendAlreadyExists) are sentinel errors matched with errors.Is.
// BackendError attributes a backend-native failure to its backend.
package interfaces
