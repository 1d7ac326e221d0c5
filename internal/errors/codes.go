package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"
	ErrAlreadyRunning  ErrorCode = "already_running"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrUnknownConfig   ErrorCode = "unknown_configuration_key"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"

	// Task errors
	ErrTaskPanic    ErrorCode = "task_panic"
	ErrChannelSend  ErrorCode = "channel_send_failed"
	ErrTaskStopped  ErrorCode = "task_stopped"
	ErrTimeout      ErrorCode = "operation_timeout"
	ErrInvalidState ErrorCode = "invalid_state"

	// Fault causes reported across task boundaries
	ErrNondescript      ErrorCode = "nondescript_error"
	ErrTransport        ErrorCode = "transport_failure"
	ErrTransportTimeout ErrorCode = "transport_timeout"
	ErrBufferOverflow   ErrorCode = "buffer_overflow"
	ErrMalformedInput   ErrorCode = "malformed_input"

	// Metrics errors
	ErrInitMetrics  ErrorCode = "init_metrics_failed"
	ErrCloseMetrics ErrorCode = "close_metrics_failed"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:         "Internal error occurred",
	ErrInvalidArgument:  "Invalid argument provided",
	ErrUnavailable:      "Service unavailable",
	ErrAlreadyRunning:   "Another instance is already running",
	ErrInvalidConfig:    "Invalid configuration",
	ErrUnknownConfig:    "Unknown configuration key",
	ErrBindFlags:        "Failed to bind flags",
	ErrReadConfig:       "Failed to read configuration",
	ErrInvalidLogLevel:  "Invalid log level",
	ErrInitFailed:       "Initialization failed",
	ErrShutdownFailed:   "Shutdown failed",
	ErrTaskPanic:        "Task panicked",
	ErrChannelSend:      "Failed to send on channel",
	ErrTaskStopped:      "Task stopped",
	ErrTimeout:          "Operation timed out",
	ErrInvalidState:     "Invalid state",
	ErrNondescript:      "Nondescript error",
	ErrTransport:        "Transport I/O error",
	ErrTransportTimeout: "Transport timeout error",
	ErrBufferOverflow:   "Receive buffer overflow: read the whole local buffer with no delimiter",
	ErrMalformedInput:   "Failed to parse input",
	ErrInitMetrics:      "Failed to initialize metrics",
	ErrCloseMetrics:     "Failed to close metrics connection",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
