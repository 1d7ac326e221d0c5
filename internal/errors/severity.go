package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Cause classifies what went wrong in a fault that crosses a task boundary.
type Cause uint8

const (
	CauseNondescript Cause = iota
	CauseTransport
	CauseTimeout
	CauseBufferOverflow
	CauseMalformedInput
)

var causeCodes = [...]ErrorCode{
	CauseNondescript:    ErrNondescript,
	CauseTransport:      ErrTransport,
	CauseTimeout:        ErrTransportTimeout,
	CauseBufferOverflow: ErrBufferOverflow,
	CauseMalformedInput: ErrMalformedInput,
}

// Code returns the error code backing the cause.
func (c Cause) Code() ErrorCode {
	if int(c) < len(causeCodes) {
		return causeCodes[c]
	}

	return ErrNondescript
}

func (c Cause) String() string {
	return string(c.Code())
}

// CauseOf classifies err by the first cause code found walking its chain, so
// an outer contextual wrap does not hide the cause. A context deadline with no
// cause code maps to CauseTimeout and everything else is nondescript.
func CauseOf(err error) Cause {
	for e := err; e != nil; e = errors.Unwrap(e) {
		coded, ok := e.(Error)
		if !ok {
			continue
		}
		if c, ok := causeForCode(coded.Code()); ok {
			return c
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CauseTimeout
	}

	return CauseNondescript
}

func causeForCode(code ErrorCode) (Cause, bool) {
	if code == ErrTimeout {
		return CauseTimeout, true
	}
	for c, cc := range causeCodes {
		if cc == code {
			return Cause(c), true
		}
	}

	return CauseNondescript, false
}

// Severity ranks how much operator attention a fault needs. Lower values are
// more severe; CompleteFailure is the worst.
type Severity uint8

const (
	CompleteFailure Severity = iota
	LossOfSomeFunctionality
	BadIfReoccurring
	EntirelyRecoverable
	MaybeRecoverable
)

// Severities lists every rank from most to least severe.
var Severities = []Severity{
	CompleteFailure,
	LossOfSomeFunctionality,
	BadIfReoccurring,
	EntirelyRecoverable,
	MaybeRecoverable,
}

var severityNames = [...]string{
	CompleteFailure:         "CompleteFailure",
	LossOfSomeFunctionality: "LossOfSomeFunctionality",
	BadIfReoccurring:        "BadIfReoccurring",
	EntirelyRecoverable:     "EntirelyRecoverable",
	MaybeRecoverable:        "MaybeRecoverable",
}

// Valid reports whether s is one of the five ranks.
func (s Severity) Valid() bool {
	return int(s) < len(severityNames)
}

func (s Severity) String() string {
	if s.Valid() {
		return severityNames[s]
	}

	return fmt.Sprintf("Severity(%d)", uint8(s))
}

// MoreSevereThan reports whether s needs more attention than other.
func (s Severity) MoreSevereThan(other Severity) bool {
	return s < other
}

// ParseSeverity accepts a rank name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	for i, n := range severityNames {
		if strings.EqualFold(n, name) {
			return Severity(i), nil
		}
	}

	return 0, New().WithData(ErrInvalidArgument, fmt.Sprintf("unknown severity %q", name))
}

// SeverityError pairs a fault with the severity its reporter chose. It is the
// only error shape that may be published to the supervisor.
type SeverityError struct {
	err       error
	cause     Cause
	severity  Severity
	requested Severity
}

// FromWithSeverity annotates err with severity. A nil err becomes a
// nondescript fault. An out-of-range severity is escalated to CompleteFailure
// and the requested rank is kept in the message.
func FromWithSeverity(err error, severity Severity) *SeverityError {
	if err == nil {
		err = New().New(ErrNondescript)
	}

	e := &SeverityError{
		err:       err,
		cause:     CauseOf(err),
		severity:  severity,
		requested: severity,
	}
	if !severity.Valid() {
		e.severity = CompleteFailure
	}

	return e
}

func (e *SeverityError) Error() string {
	if e.requested != e.severity {
		return fmt.Sprintf("%v with severity: %s (requested %s)", e.err, e.severity, e.requested)
	}

	return fmt.Sprintf("%v with severity: %s", e.err, e.severity)
}

func (e *SeverityError) Unwrap() error {
	return e.err
}

func (e *SeverityError) Cause() Cause {
	return e.cause
}

func (e *SeverityError) Severity() Severity {
	return e.severity
}
