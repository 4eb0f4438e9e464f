package common

var (
	// Version is overridden at build time with -ldflags "-X ...common.Version=..."
	Version = "dev"

	// PackageName prefixes exported metric names
	PackageName = "node_storage"
)
