package metrics

import (
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
)

const (
	// File system permissions and paths
	defaultDirPerm      = 0o755
	defaultDBPath       = "/var/lib/gaugectl/metrics.db"
	defaultBatchSize    = 50
	defaultBatchTimeout = 5 * time.Second
)

type Config struct {
	DBPath       string
	Enabled      bool
	BatchSize    int
	BatchTimeout time.Duration
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

	// Only validate DBPath if metrics is enabled
	if c.Enabled && c.DBPath == "" {
		return errFactory.New(ErrInvalidDBPath)
	}
	if c.BatchSize < 0 || c.BatchTimeout < 0 {
		return errFactory.WithData(ErrInvalidConfig, "batch size and timeout must not be negative")
	}

	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
