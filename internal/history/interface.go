package history

import (
	"context"

	"codeberg.org/mutker/bmsmon/internal/telemetry"
)

// Collector records published snapshots and serves them back
type Collector interface {
	Record(ctx context.Context, snapshot *telemetry.Snapshot) error
	Recent(ctx context.Context, limit int) ([]telemetry.Snapshot, error)
	Close() error
}

// Repository defines the interface for snapshot storage
type Repository interface {
	Record(snapshot *telemetry.Snapshot) error
	Recent(ctx context.Context, limit int) ([]telemetry.Snapshot, error)
	Flush() error
	Close() error
}
