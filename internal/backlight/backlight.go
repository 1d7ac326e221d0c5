// Package backlight watches the dashboard illumination level and tells the
// gauge when it switches on or off.
package backlight

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"github.com/rs/zerolog"
)

const (
	ErrReadLevel = errors.ErrTransport
	ErrBadLevel  = errors.ErrMalformedInput
)

type Config struct {
	// Path holds an integer level, sysfs style.
	Path string
	// Threshold is the highest level still considered off.
	Threshold    int
	PollInterval time.Duration
}

type Option func(*Sensor)

func WithLogger(l logger.Logger) Option {
	return func(s *Sensor) {
		s.log = l
	}
}

// Sensor publishes BacklightChanged on every edge. The first successful read
// always publishes. A read failure is reported once per outage.
type Sensor struct {
	cfg    Config
	out    mailbox.Sender[event.GaugeEvent]
	report event.Reporter
	log    logger.Logger

	known   bool
	on      bool
	failing bool
}

func New(cfg Config, out mailbox.Sender[event.GaugeEvent], report event.Reporter, opts ...Option) *Sensor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	s := &Sensor{
		cfg:    cfg,
		out:    out,
		report: report,
		log:    logger.New(zerolog.Nop()),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Run polls until ctx is done. On read failures the last known state is kept.
func (s *Sensor) Run(ctx context.Context) error {
	if err := s.report.Initialized(ctx); err != nil {
		return nil
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := s.sample(ctx); err != nil && ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sensor) sample(ctx context.Context) error {
	level, err := ReadLevel(s.cfg.Path)
	if err != nil {
		if s.failing {
			return err
		}
		s.failing = true

		severity := errors.LossOfSomeFunctionality
		if errors.CauseOf(err) == errors.CauseMalformedInput {
			severity = errors.EntirelyRecoverable
		}
		if sendErr := s.report.Fail(ctx, err, severity); sendErr != nil {
			return sendErr
		}
		return err
	}
	if s.failing {
		s.failing = false
		s.log.Info().Str("path", s.cfg.Path).Msg("Backlight level readable again")
	}

	on := level > s.cfg.Threshold
	if s.known && on == s.on {
		return nil
	}
	s.known, s.on = true, on

	s.log.Debug().Int("level", level).Bool("on", on).Msg("Backlight changed")
	return s.out.Send(ctx, event.BacklightChanged{On: on})
}

// ReadLevel parses the integer in path.
func ReadLevel(path string) (int, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errFactory.Wrap(ErrReadLevel, err)
	}

	level, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errFactory.Wrap(ErrBadLevel, err)
	}

	return level, nil
}
