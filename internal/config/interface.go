package config

// Option defines a configuration option that can be passed to Load
type Option func(*options)

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	searchDirs []string
}

// WithConfigFile specifies an explicit configuration file path. It takes
// precedence over --config and the BMSMON_CONFIG environment variable.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "BMSMON"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) {
		o.envPrefix = prefix
	}
}

// WithSearchDirs replaces the directories searched for bmsmon.toml when no
// explicit file is given.
func WithSearchDirs(dirs ...string) Option {
	return func(o *options) {
		o.searchDirs = dirs
	}
}

// ValidationError represents a configuration validation error
type ValidationError interface {
	error
	// Field returns the name of the invalid field
	Field() string
	// Value returns the invalid value
	Value() any
	// Reason returns why the value is invalid
	Reason() string
}
