package api

import (
	"log/slog"
	"time"
)

// HTTPServerConfig configures the storage API server.
type HTTPServerConfig struct {
	// ListenAddr is where the key-value API listens.
	ListenAddr string

	// MetricsAddr is where Prometheus metrics are served. Empty disables the
	// metrics server.
	MetricsAddr string

	// EnablePprof mounts the pprof handlers under /debug.
	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long /drain keeps the server unready before the
	// drain is reported complete.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxValueSize caps PUT bodies; zero selects DefaultMaxValueSize.
	MaxValueSize int64
}
