// Package elm reads mode 01 telemetry from an ELM327 adapter on a serial port
// and publishes it to the gauge.
package elm

import (
	"context"
	"io"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

const (
	DefaultBaudRate = 38400
	// BufferSize bounds one reply, prompt excluded.
	BufferSize = 256

	prompt    = '>'
	readSlice = 50 * time.Millisecond
)

var initCommands = []string{"ATZ", "ATE0", "ATL0", "ATS0", "ATSP0"}

// Port is the part of a serial port the source uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the adapter's port.
type Opener func() (Port, error)

// SerialOpener opens name with go.bug.st/serial at 8N1.
func SerialOpener(name string, baudRate int) Opener {
	return func() (Port, error) {
		if baudRate <= 0 {
			baudRate = DefaultBaudRate
		}
		p, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
		if err != nil {
			return nil, errors.New().Wrap(ErrOpenPort, err)
		}
		return p, nil
	}
}

type Config struct {
	PIDs         []PID
	ReadTimeout  time.Duration
	PollInterval time.Duration
	// InitRetry is the pause before reopening the adapter after a failed
	// initialisation.
	InitRetry time.Duration
}

type Option func(*Source)

func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

type Source struct {
	cfg    Config
	open   Opener
	out    mailbox.Sender[event.GaugeEvent]
	report event.Reporter
	log    logger.Logger

	port Port
	buf  [BufferSize]byte
}

func New(cfg Config, open Opener, out mailbox.Sender[event.GaugeEvent], report event.Reporter, opts ...Option) *Source {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.InitRetry <= 0 {
		cfg.InitRetry = 2 * time.Second
	}

	s := &Source{
		cfg:    cfg,
		open:   open,
		out:    out,
		report: report,
		log:    logger.New(zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// severities is the fixed response to each cause.
var severities = map[errors.Cause]errors.Severity{
	errors.CauseNondescript:    errors.BadIfReoccurring,
	errors.CauseTransport:      errors.LossOfSomeFunctionality,
	errors.CauseTimeout:        errors.MaybeRecoverable,
	errors.CauseBufferOverflow: errors.BadIfReoccurring,
	errors.CauseMalformedInput: errors.EntirelyRecoverable,
}

// SeverityFor picks the severity a request fault is reported with.
func SeverityFor(err error) errors.Severity {
	return severities[errors.CauseOf(err)]
}

// Run initialises the adapter, retrying until it answers, then polls the
// configured PIDs round-robin until ctx is done.
func (s *Source) Run(ctx context.Context) error {
	if len(s.cfg.PIDs) == 0 {
		err := errors.New().WithData(errors.ErrInvalidArgument, "no pids to poll")
		s.fail(ctx, err, errors.CompleteFailure)
		return err
	}

	if err := s.connect(ctx); err != nil {
		return nil
	}
	defer s.port.Close()

	if err := s.report.Initialized(ctx); err != nil {
		return nil
	}
	s.log.Info().Int("pids", len(s.cfg.PIDs)).Msg("ELM327 adapter initialized")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for i := 0; ; i = (i + 1) % len(s.cfg.PIDs) {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.poll(ctx, s.cfg.PIDs[i]); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

// connect opens and initialises the adapter. It only fails once ctx is done.
func (s *Source) connect(ctx context.Context) error {
	for {
		err := s.initialize(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.log.Warn().Err(err).Msg("ELM327 initialization failed")
		s.fail(ctx, errors.New().Wrap(ErrInitFailed, err), errors.CompleteFailure)

		timer := time.NewTimer(s.cfg.InitRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Source) initialize(ctx context.Context) error {
	port, err := s.open()
	if err != nil {
		return err
	}

	slice := readSlice
	if s.cfg.ReadTimeout < slice {
		slice = s.cfg.ReadTimeout
	}
	if err := port.SetReadTimeout(slice); err != nil {
		port.Close()
		return errors.New().Wrap(ErrPortIO, err)
	}

	s.port = port
	for _, cmd := range initCommands {
		reply, err := s.exchange(ctx, cmd)
		if err == nil && len(reply) > 0 && reply[0] == '?' {
			err = errors.New().WithData(ErrMalformedReply, cmd+" rejected")
		}
		if err != nil {
			port.Close()
			s.port = nil
			return err
		}
	}

	return nil
}

// poll requests one PID and publishes the result. Faults are reported and
// returned; NO DATA is neither.
func (s *Source) poll(ctx context.Context, pid PID) error {
	at := time.Now()

	d, err := s.request(ctx, pid)
	if err != nil {
		if errors.Is(err, errors.New().New(ErrNoData)) {
			s.log.Debug().Str("pid", pid.String()).Msg("Vehicle has no data for pid")
			return nil
		}
		if ctx.Err() == nil {
			s.fail(ctx, err, SeverityFor(err))
		}
		return err
	}

	return s.out.Send(ctx, event.NewSample{Sample: telemetry.NewSample(d, at)})
}

func (s *Source) request(ctx context.Context, pid PID) (telemetry.Datum, error) {
	reply, err := s.exchange(ctx, pid.Request())
	if err != nil {
		return telemetry.Datum{}, err
	}

	data, err := ParseResponse(pid, reply)
	if err != nil {
		return telemetry.Datum{}, err
	}

	return Decode(pid, data)
}

// exchange sends cmd and returns the reply up to the prompt.
func (s *Source) exchange(ctx context.Context, cmd string) ([]byte, error) {
	if _, err := s.port.Write([]byte(cmd + "\r")); err != nil {
		return nil, errors.New().Wrap(ErrPortIO, err)
	}

	return s.readUntilPrompt(ctx)
}

// readUntilPrompt fills the local buffer until the prompt. A reply longer than
// the buffer is drained up to its prompt and reported as an overflow.
func (s *Source) readUntilPrompt(ctx context.Context) ([]byte, error) {
	errFactory := errors.New()
	deadline := time.Now().Add(s.cfg.ReadTimeout)

	var chunk [64]byte
	n, overflow := 0, false
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, errFactory.WithData(ErrReplyTimeout, s.cfg.ReadTimeout.String())
		}

		m, err := s.port.Read(chunk[:])
		if err != nil {
			return nil, errFactory.Wrap(ErrPortIO, err)
		}

		for _, b := range chunk[:m] {
			if b == prompt {
				if overflow {
					return nil, errFactory.WithData(ErrBufferOverflow, BufferSize)
				}
				return s.buf[:n], nil
			}
			if n == len(s.buf) {
				overflow = true
				continue
			}
			s.buf[n] = b
			n++
		}
	}
}

func (s *Source) fail(ctx context.Context, err error, severity errors.Severity) {
	if sendErr := s.report.Fail(ctx, err, severity); sendErr != nil {
		s.log.Debug().Err(sendErr).AnErr("fault", err).Msg("Dropped fault report on shutdown")
	}
}
