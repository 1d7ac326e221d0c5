package gauge

import "codeberg.org/mutker/gaugectl/internal/errors"

const (
	// Startup Errors
	ErrAcquireFailed     = errors.ErrorCode("gauge_acquire_failed")
	ErrCalibrationFailed = errors.ErrorCode("gauge_calibration_failed")

	// Actuation Errors
	ErrLEDWriteFailed     = errors.ErrorCode("gauge_led_write_failed")
	ErrStepperWriteFailed = errors.ErrorCode("gauge_stepper_write_failed")

	// Event Errors
	ErrUnknownEvent = errors.ErrorCode("gauge_unknown_event")
)
