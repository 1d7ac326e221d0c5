// Package app wires the tasks together: it builds both mailboxes, hands each
// task the handles it needs and runs them until shutdown.
package app

import (
	"context"
	"fmt"
	"runtime/debug"

	"codeberg.org/mutker/gaugectl/internal/actuator"
	"codeberg.org/mutker/gaugectl/internal/backlight"
	"codeberg.org/mutker/gaugectl/internal/config"
	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/gauge"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/metrics"
	"codeberg.org/mutker/gaugectl/internal/render"
	"codeberg.org/mutker/gaugectl/internal/source/elm"
	"codeberg.org/mutker/gaugectl/internal/source/modbus"
	"codeberg.org/mutker/gaugectl/internal/supervisor"
	"golang.org/x/sync/errgroup"
)

type Option func(*options)

type options struct {
	hal      actuator.HAL
	recorder metrics.Recorder
	alerter  supervisor.Alerter
	elmOpen  elm.Opener
	dial     modbus.Dialer
}

// WithHAL replaces the host board.
func WithHAL(hal actuator.HAL) Option {
	return func(o *options) {
		o.hal = hal
	}
}

// WithRecorder replaces the recorder built from the metrics config.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

func WithAlerter(a supervisor.Alerter) Option {
	return func(o *options) {
		o.alerter = a
	}
}

func WithELMOpener(open elm.Opener) Option {
	return func(o *options) {
		o.elmOpen = open
	}
}

func WithModbusDialer(dial modbus.Dialer) Option {
	return func(o *options) {
		o.dial = dial
	}
}

type task struct {
	name string
	from event.Subsystem
	run  func(ctx context.Context) error
	// restart runs the task again after a panic instead of reporting it.
	restart bool
}

type App struct {
	log        logger.Logger
	recorder   metrics.Recorder
	board      *actuator.Board
	inbox      *mailbox.Mailbox[event.GaugeEvent]
	faults     *mailbox.Mailbox[event.SupervisorEvent]
	supervisor *supervisor.Supervisor
	tasks      []task
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	errFactory := errors.New()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	a := &App{log: logger.Component("app")}

	var err error
	if a.inbox, err = mailbox.New[event.GaugeEvent](cfg.Channels.Capacity); err != nil {
		return nil, err
	}
	if a.faults, err = mailbox.New[event.SupervisorEvent](cfg.Channels.Capacity); err != nil {
		return nil, err
	}

	a.recorder = o.recorder
	if a.recorder == nil {
		a.recorder, err = metrics.NewService(metrics.Config{
			DBPath:       cfg.Metrics.DBPath,
			Enabled:      cfg.Metrics.Enabled,
			BatchSize:    cfg.Metrics.BatchSize,
			BatchTimeout: cfg.Metrics.BatchTimeout,
		}, logger.Component("metrics"))
		if err != nil {
			return nil, errFactory.Wrap(errors.ErrInitMetrics, err)
		}
	}

	supRx, err := a.faults.Receiver()
	if err != nil {
		return nil, err
	}
	supOpts := []supervisor.Option{
		supervisor.WithLogger(logger.Component("supervisor")),
		supervisor.WithRecorder(a.recorder),
	}
	if o.alerter != nil {
		supOpts = append(supOpts, supervisor.WithAlerter(o.alerter))
	}
	a.supervisor = supervisor.New(supRx, supOpts...)

	if err := a.addGauge(cfg, o); err != nil {
		_ = a.recorder.Close()
		return nil, err
	}
	if err := a.addSource(cfg, o); err != nil {
		_ = a.recorder.Close()
		return nil, err
	}
	if cfg.Backlight.Path != "" {
		sensor := backlight.New(backlight.Config{
			Path:         cfg.Backlight.Path,
			Threshold:    cfg.Backlight.Threshold,
			PollInterval: cfg.Backlight.PollInterval,
		}, a.inbox.Sender(), a.reporter(event.SubsystemBacklight), backlight.WithLogger(logger.Component("backlight")))
		a.tasks = append(a.tasks, task{name: "backlight", from: event.SubsystemBacklight, run: sensor.Run})
	}

	return a, nil
}

func (a *App) reporter(from event.Subsystem) event.Reporter {
	return event.NewReporter(from, a.faults.Sender())
}

func (a *App) addGauge(cfg *config.Config, o *options) error {
	g := cfg.Gauge

	renderer, err := render.New(render.Params{
		LEDs:             g.LEDs,
		LabelLEDs:        g.LabelLEDs,
		ZeroOffset:       g.ZeroOffset,
		FillLevels:       g.FillLevels,
		DomainMax:        g.DomainMax,
		BrightMultiplier: float32(g.BrightMultiplier),
		DimMultiplier:    float32(g.DimMultiplier),
	})
	if err != nil {
		return err
	}

	hal := o.hal
	if hal == nil {
		a.board = actuator.NewBoard(actuator.BoardConfig{
			Stepper: actuator.StepperLimits{
				MaxSteps:  g.StepperMaxSteps,
				DomainMax: g.DomainMax,
			},
			LEDPort:     cfg.LEDs.Port,
			LEDBaudRate: cfg.LEDs.BaudRate,
		}, logger.Component("actuator"))
		hal = a.board
	}

	rx, err := a.inbox.Receiver()
	if err != nil {
		return err
	}

	t := gauge.New(gauge.Config{
		StepperFrequency:   g.StepperFrequency,
		CalibrationTimeout: g.CalibrationTimeout,
		ActuationTimeout:   g.ActuationTimeout,
		CalibrationRetry:   g.CalibrationRetry,
	}, hal, renderer, rx, a.reporter(event.SubsystemGauge),
		gauge.WithRecorder(a.recorder),
		gauge.WithLogger(logger.Component("gauge")),
	)
	a.tasks = append(a.tasks, task{name: "gauge", from: event.SubsystemGauge, run: t.Run})

	return nil
}

func (a *App) addSource(cfg *config.Config, o *options) error {
	s := cfg.Source
	report := a.reporter(event.SubsystemTelemetrySource)
	log := logger.Component("source")

	var run func(context.Context) error
	switch s.Kind {
	case config.SourceNone:
		a.log.Info().Msg("No telemetry source configured")
		return nil
	case config.SourceELM:
		pids, err := elm.ParsePIDs(s.ELM.PIDs)
		if err != nil {
			return err
		}
		open := o.elmOpen
		if open == nil {
			open = elm.SerialOpener(s.ELM.Port, s.ELM.BaudRate)
		}
		run = elm.New(elm.Config{
			PIDs:         pids,
			ReadTimeout:  s.ELM.ReadTimeout,
			PollInterval: s.PollInterval,
		}, open, a.inbox.Sender(), report, elm.WithLogger(log)).Run
	case config.SourceModbus:
		dial := o.dial
		if dial == nil {
			dial = modbus.TCPDialer(s.Modbus.Endpoint, s.Modbus.UnitID, s.Modbus.Timeout)
		}
		run = modbus.New(modbus.Config{
			Register:     s.Modbus.Register,
			Scale:        s.Modbus.Scale,
			PollInterval: s.PollInterval,
		}, dial, a.inbox.Sender(), report, modbus.WithLogger(log)).Run
	default:
		return errors.New().WithData(errors.ErrInvalidConfig, fmt.Sprintf("unknown source %q", s.Kind))
	}

	a.tasks = append(a.tasks, task{name: "source", from: event.SubsystemTelemetrySource, run: run})

	return nil
}

// Inbox lets other producers publish to the gauge.
func (a *App) Inbox() mailbox.Sender[event.GaugeEvent] {
	return a.inbox.Sender()
}

func (a *App) Status() supervisor.Status {
	return a.supervisor.Status()
}

// Run starts the supervisor and every task and waits for all of them. A task
// that returns or panics does not stop the others; only ctx does. The first
// task error, if any, is returned once everything has stopped.
func (a *App) Run(ctx context.Context) error {
	var g errgroup.Group

	g.Go(func() error {
		return a.guard(ctx, task{name: "supervisor", run: a.supervisor.Run, restart: true})
	})
	for _, t := range a.tasks {
		t := t
		g.Go(func() error {
			return a.guard(ctx, t)
		})
	}

	return g.Wait()
}

// guard runs t, turning a panic into a CompleteFailure for its subsystem.
// A restartable task is run again instead, so its mailbox keeps draining.
func (a *App) guard(ctx context.Context, t task) error {
	for {
		panicked, err := a.runTask(ctx, t)
		if !panicked || !t.restart || ctx.Err() != nil {
			return err
		}
		a.log.Warn().Str("task", t.name).Msg("Restarting task")
	}
}

func (a *App) runTask(ctx context.Context, t task) (panicked bool, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		panicked = true
		err = errors.New().WithData(errors.ErrTaskPanic, fmt.Sprintf("%s: %v", t.name, r))
		a.log.Error().
			Str("task", t.name).
			Str("stack", string(debug.Stack())).
			Msg("Task panicked")

		if t.restart {
			return
		}
		if sendErr := a.reporter(t.from).Fail(ctx, err, errors.CompleteFailure); sendErr != nil {
			a.log.Debug().Err(sendErr).AnErr("fault", err).Msg("Dropped panic report on shutdown")
		}
	}()

	a.log.Debug().Str("task", t.name).Msg("Task started")
	err = t.run(ctx)
	if err != nil {
		a.log.Warn().Err(err).Str("task", t.name).Msg("Task stopped with error")
	}

	return false, err
}

// Close releases the recorder and the actuator board.
func (a *App) Close() error {
	errFactory := errors.New()

	var errs []error
	if err := a.recorder.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.board != nil {
		if err := a.board.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errFactory.WithData(errors.ErrShutdownFailed, errs)
	}

	return nil
}
