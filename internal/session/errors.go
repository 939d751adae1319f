package session

import "codeberg.org/mutker/bmsmon/internal/errors"

const (
	ErrConnectFailed = errors.ErrorCode("session_connect_failed")
	ErrStopTimeout   = errors.ErrorCode("session_stop_timeout")
	ErrPollFailed    = errors.ErrorCode("session_poll_failed")
)

func init() {
	errors.RegisterMessage(ErrConnectFailed, "Failed to open monitoring session")
	errors.RegisterMessage(ErrStopTimeout, "Timed out waiting for polling loop to stop")
	errors.RegisterMessage(ErrPollFailed, "Poll failed")
}
