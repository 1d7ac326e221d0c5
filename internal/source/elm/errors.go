package elm

import "codeberg.org/mutker/gaugectl/internal/errors"

const (
	ErrOpenPort       = errors.ErrTransport
	ErrPortIO         = errors.ErrTransport
	ErrReplyTimeout   = errors.ErrTransportTimeout
	ErrBufferOverflow = errors.ErrBufferOverflow
	ErrMalformedReply = errors.ErrMalformedInput
	ErrInitFailed     = errors.ErrorCode("elm_init_failed")
	ErrUnknownPID     = errors.ErrorCode("elm_unknown_pid")

	// ErrNoData is the adapter's answer for a PID the vehicle does not serve.
	// It is skipped, not reported.
	ErrNoData = errors.ErrorCode("elm_no_data")
)
