package telemetry

import "context"

// Source opens links to a battery-management device. Implementations own
// transport, framing and reconnection.
type Source interface {
	// Connect acquires the link. The returned Conn must be closed by the
	// caller on every exit path.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an open link to the device.
type Conn interface {
	// FetchPrimary reads one snapshot. With wait set the source blocks for a
	// fresh frame rather than returning a cached one. Fails with
	// ErrSourceUnavailable when the link is down and ErrTimeout when the
	// device does not answer in time.
	FetchPrimary(ctx context.Context, wait bool) (Snapshot, error)

	// FetchSecondary reads the per-cell voltages.
	FetchSecondary(ctx context.Context) ([]float64, error)

	Close() error
}
