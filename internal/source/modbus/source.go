// Package modbus polls a holding register carrying engine speed, for bench
// rigs that simulate the vehicle over Modbus TCP.
package modbus

import (
	"context"
	"fmt"
	"net"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	ErrConnectFailed = errors.ErrorCode("modbus_connect_failed")
	ErrReadFailed    = errors.ErrTransport
	ErrReadTimeout   = errors.ErrTransportTimeout
	ErrShortRead     = errors.ErrMalformedInput
)

type Config struct {
	Register     uint16
	Scale        float64
	PollInterval time.Duration
	// ConnectRetry is the pause between failed connection attempts.
	ConnectRetry time.Duration
}

type Option func(*Source)

func WithLogger(l logger.Logger) Option {
	return func(s *Source) {
		s.log = l
	}
}

type Source struct {
	cfg    Config
	dial   Dialer
	out    mailbox.Sender[event.GaugeEvent]
	report event.Reporter
	log    logger.Logger
}

func New(cfg Config, dial Dialer, out mailbox.Sender[event.GaugeEvent], report event.Reporter, opts ...Option) *Source {
	if cfg.Scale == 0 {
		cfg.Scale = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.ConnectRetry <= 0 {
		cfg.ConnectRetry = 2 * time.Second
	}

	s := &Source{
		cfg:    cfg,
		dial:   dial,
		out:    out,
		report: report,
		log:    logger.New(zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run connects, retrying until the endpoint answers, then polls until ctx is
// done. The client reconnects by itself after a failed read.
func (s *Source) Run(ctx context.Context) error {
	client, err := s.connect(ctx)
	if err != nil {
		return nil
	}
	defer client.Close()

	if err := s.report.Initialized(ctx); err != nil {
		return nil
	}
	s.log.Info().Uint16("register", s.cfg.Register).Msg("Modbus source connected")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.poll(ctx, client); err != nil && ctx.Err() != nil {
			return nil
		}
	}
}

func (s *Source) connect(ctx context.Context) (Client, error) {
	for {
		client, err := s.dial()
		if err == nil {
			return client, nil
		}

		s.log.Warn().Err(err).Msg("Modbus connect failed")
		s.fail(ctx, errors.New().Wrap(ErrConnectFailed, classify(err)), errors.CompleteFailure)

		timer := time.NewTimer(s.cfg.ConnectRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (s *Source) poll(ctx context.Context, client Client) error {
	at := time.Now()

	regs, err := client.ReadHoldingRegisters(s.cfg.Register, 1)
	if err == nil && len(regs) != 1 {
		err = errors.New().WithData(ErrShortRead, fmt.Sprintf("want 1 register, got %d", len(regs)))
	}
	if err != nil {
		err = classify(err)
		s.fail(ctx, err, severityFor(err))
		return err
	}

	d := telemetry.RPM(float64(regs[0]) * s.cfg.Scale)
	return s.out.Send(ctx, event.NewSample{Sample: telemetry.NewSample(d, at)})
}

// classify gives a raw client error its cause code.
func classify(err error) error {
	if _, ok := err.(errors.Error); ok {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.New().Wrap(ErrReadTimeout, err)
	}

	return errors.New().Wrap(ErrReadFailed, err)
}

func severityFor(err error) errors.Severity {
	switch errors.CauseOf(err) {
	case errors.CauseTimeout:
		return errors.MaybeRecoverable
	case errors.CauseMalformedInput:
		return errors.EntirelyRecoverable
	default:
		return errors.LossOfSomeFunctionality
	}
}

func (s *Source) fail(ctx context.Context, err error, severity errors.Severity) {
	if sendErr := s.report.Fail(ctx, err, severity); sendErr != nil {
		s.log.Debug().Err(sendErr).AnErr("fault", err).Msg("Dropped fault report on shutdown")
	}
}
