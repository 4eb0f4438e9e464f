// Package registry maps storage plugin names to plugins and turns declarative
// backend configurations into live backends.
//
// NewDefaultRegistry registers every built-in plugin:
//
//   - local: interfaces.LocalConfig, one file per key
//   - redis: interfaces.NetworkedConfig, Redis-compatible service
//   - memory, badger, s3, vault, ipfs, postgres, remote: interfaces.CustomConfig
//     with plugin-specific options
//
// Additional plugins are added with Register before the storage manager first
// creates a backend. Registering a name twice fails with
// interfaces.ErrPluginAlreadyExists and leaves the first plugin in place.
//
// ConfigFromURI parses location URIs (file://, redis://, s3://, ...) into
// configurations, so a backend can be described by a single string on the
// command line.
package registry
