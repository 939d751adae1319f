package history

import (
	"codeberg.org/mutker/bmsmon/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/bmsmon/history.db"
	defaultBatchSize    = 10
	defaultBatchTimeout = 30
	// defaultMaxBuffered bounds snapshots held while flushes keep failing.
	defaultMaxBuffered = 1000
)

type Config struct {
	DBPath  string
	Enabled bool
	// BatchSize is the number of snapshots buffered before a write.
	BatchSize int
	// BatchTimeout in seconds flushes a partial batch.
	BatchTimeout int
}

func DefaultConfig() Config {
	return Config{
		DBPath:       defaultDBPath,
		Enabled:      false, // Disabled by default
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	// Only validate the rest if history is enabled
	if !c.Enabled {
		return nil
	}
	if c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, struct {
			BatchSize    int
			BatchTimeout int
		}{c.BatchSize, c.BatchTimeout})
	}

	return nil
}
