package config

import "context"

// Loader abstracts where the service configuration comes from so the main
// binary does not care whether it was a file, environment variables, or a
// remote source.
type Loader interface {
	// Load retrieves and parses the configuration. The returned Config is
	// complete but not validated beyond structural parsing; consumers apply
	// their own defaults for unset tunables.
	Load(ctx context.Context) (*Config, error)
}
