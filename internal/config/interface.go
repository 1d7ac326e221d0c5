package config

import (
	"fmt"
	"strings"
)

// Option defines a configuration option that can be passed to Load
type Option func(*options) error

// options holds internal configuration options
type options struct {
	configPath string
	envPrefix  string
	args       []string
}

// WithConfigFile specifies an explicit configuration file path. It wins over
// both the --config flag and the environment.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithEnvPrefix specifies a custom environment variable prefix
// Default is "GAUGECTL"
func WithEnvPrefix(prefix string) Option {
	return func(o *options) error {
		if prefix == "" {
			return fmt.Errorf("empty environment prefix")
		}
		o.envPrefix = prefix
		return nil
	}
}

// WithArgs replaces the command line arguments, without the program name.
func WithArgs(args []string) Option {
	return func(o *options) error {
		o.args = args
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}

// ValidationError represents a configuration validation error
type ValidationError interface {
	error
	// Field returns the name of the invalid field
	Field() string
	// Value returns the invalid value
	Value() interface{}
	// Reason returns why the value is invalid
	Reason() string
}

type fieldError struct {
	field  string
	value  interface{}
	reason string
}

func (e *fieldError) Error() string {
	return fmt.Sprintf("%s: %s (got %v)", e.field, e.reason, e.value)
}

func (e *fieldError) Field() string      { return e.field }
func (e *fieldError) Value() interface{} { return e.value }
func (e *fieldError) Reason() string     { return e.reason }

// ValidationErrors is every problem found in one pass.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}

// Status represents the current state of the configuration
type Status struct {
	// Valid indicates whether the current configuration is valid
	Valid bool
	// ValidationErrors contains any validation errors if Valid is false
	ValidationErrors []ValidationError
}
