// Package manager routes logical storage operations across named backends.
//
// A Manager holds a set of backends, each created through a plugin registry
// or registered directly, and a StoragePolicy that decides which of them serve
// a call:
//
//	AlwaysUse       one named backend
//	FirstAvailable  first healthy backend in order
//	PreferCache     cache first, primary on miss, invalidate then write-through
//	Redundant       writes fan out, reads take the first hit
//	RoundRobin      rotates over the listed backends
//	Custom          an injected CustomStrategy orders the candidates
//
// Every call is counted in Metrics, and per-backend timings can be forwarded
// to an interfaces.MetricsSink.
package manager
