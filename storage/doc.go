// Package storage provides the concrete backends behind the node agent's
// key-value storage layer.
//
// Every backend implements interfaces.StorageBackend over validated string keys
// and opaque byte values:
//
//   - LocalBackend: one file per key in a private directory, written through a
//     temp file and an atomic rename
//   - NetworkedBackend: Redis-compatible service behind a bounded connection
//     pool, with bounded exponential-backoff retries
//   - MemoryBackend: bounded in-process LRU with optional TTL, used as a cache
//   - BadgerBackend: embedded LSM store, on disk or in memory
//   - S3Backend: one object per key in an S3-compatible bucket
//   - VaultBackend: Vault KV v2 secrets
//   - IPFSBackend: files in the mutable file system of an IPFS node
//   - PostgresBackend: a single key/value table
//
// # Consistency
//
// Each backend documents how it maps interfaces.ConsistencyLevel onto its
// medium. Backends with a single durability mode serve every level as Strong.
//
// # Retries
//
// Networked backends run every operation through RetryPolicy: by default three
// attempts with a delay of 100ms doubling after each failure. Exhausted retries
// surface as interfaces.ErrConnectionFailed; callers bound the whole operation
// with the context they pass in.
//
// # Usage Example
//
//	b, err := storage.NewLocalBackend("/var/lib/node/state", logger)
//	if err != nil {
//		return err
//	}
//	err = b.Put(ctx, "peer_list", []byte(`["a","b"]`), interfaces.Strong)
//	value, found, err := b.Get(ctx, "peer_list", interfaces.Strong)
package storage
