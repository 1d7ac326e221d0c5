package logger

import (
	"io"
	"os"
	"sync/atomic"
	"syscall"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diodeSize         = 1000
	diodePollInterval = 10 * time.Millisecond
)

var (
	log     = zerolog.Nop()
	closers []io.Closer
	dropped atomic.Int64
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// Options selects the outputs and level used by Init.
type Options struct {
	Level     string
	IsService bool
	// Async routes output through a bounded ring buffer so a slow sink
	// drops lines instead of blocking the caller.
	Async      bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Init initializes the logger based on the given options
func Init(opts Options) error {
	errFactory := errors.New()

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	if opts.IsService {
		console.TimeFormat = ""
		console.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	var output io.Writer = console

	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		if _, err := file.Write(nil); err != nil {
			return errFactory.Wrap(errors.ErrInitFailed, err)
		}
		closers = append(closers, file)
		output = zerolog.MultiLevelWriter(console, file)
	}

	if opts.Async {
		d := diode.NewWriter(output, diodeSize, diodePollInterval, func(missed int) {
			dropped.Add(int64(missed))
		})
		closers = append(closers, d)
		output = d
	}

	log = zerolog.New(output).With().Timestamp().Logger()

	SetLogLevel(level)

	return nil
}

// Close flushes and releases any outputs opened by Init.
func Close() error {
	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	closers = nil

	return first
}

// Dropped returns how many lines the async writer discarded.
func Dropped() int64 {
	return dropped.Load()
}

// ParseLevel maps a configured level name onto a LogLevel
func ParseLevel(name string) (LogLevel, error) {
	switch name {
	case "debug":
		return DebugLevel, nil
	case "", "info":
		return InfoLevel, nil
	case "warning", "warn":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return 0, errors.New().WithData(errors.ErrInvalidLogLevel, name)
	}
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return syscall.Getpgrp() == syscall.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Err(err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Err(err)}
}

// Component returns a Logger whose events carry the given component name.
func Component(name string) Logger {
	return &componentLogger{zl: log.With().Str("component", name).Logger()}
}

// New wraps an existing zerolog logger, mostly for tests that capture output.
func New(zl zerolog.Logger) Logger {
	return &componentLogger{zl: zl}
}

type componentLogger struct {
	zl zerolog.Logger
}

func (l *componentLogger) Debug() *LogEvent {
	return &LogEvent{l.zl.Debug()}
}

func (l *componentLogger) Info() *LogEvent {
	return &LogEvent{l.zl.Info()}
}

func (l *componentLogger) Warn() *LogEvent {
	return &LogEvent{l.zl.Warn()}
}

func (l *componentLogger) Error() *LogEvent {
	return &LogEvent{l.zl.Error()}
}

func (l *componentLogger) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{l.zl.Error().
		Str("error_code", string(err.Code())).
		Err(err)}
}

// Fault logs a severity-annotated error at warn level.
func (l *componentLogger) Fault(err *errors.SeverityError) *LogEvent {
	return &LogEvent{l.zl.Warn().
		Str("cause", err.Cause().String()).
		Str("severity", err.Severity().String()).
		Err(err)}
}
