package telemetry

import "codeberg.org/mutker/bmsmon/internal/errors"

const (
	// Source Errors
	ErrSourceUnavailable = errors.ErrorCode("telemetry_source_unavailable")
	ErrTimeout           = errors.ErrorCode("telemetry_timeout")
	ErrConnectFailed     = errors.ErrorCode("telemetry_connect_failed")

	// Data Errors
	ErrInvalidSnapshot = errors.ErrorCode("telemetry_invalid_snapshot")
)

func init() {
	errors.RegisterMessage(ErrSourceUnavailable, "Telemetry source unavailable")
	errors.RegisterMessage(ErrTimeout, "Telemetry source timed out")
	errors.RegisterMessage(ErrConnectFailed, "Failed to connect to telemetry source")
	errors.RegisterMessage(ErrInvalidSnapshot, "Invalid telemetry snapshot")
}
