package actuator

import "codeberg.org/mutker/gaugectl/internal/errors"

const (
	ErrNotCalibrated = errors.ErrorCode("actuator_not_calibrated")
	ErrInvalidLimits = errors.ErrorCode("actuator_invalid_limits")
	ErrMoveAborted   = errors.ErrTransportTimeout
	ErrLEDWrite      = errors.ErrTransport
	ErrOpenLink      = errors.ErrTransport
)
