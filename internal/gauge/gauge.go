// Package gauge runs the task that owns the actuators: it calibrates the
// stepper once, then renders every telemetry sample onto the LED ring and the
// needle.
package gauge

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/gaugectl/internal/actuator"
	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/metrics"
	"codeberg.org/mutker/gaugectl/internal/render"
	"github.com/rs/zerolog"
)

type State int32

const (
	StateUninitialized State = iota
	StateCalibrating
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCalibrating:
		return "calibrating"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type Config struct {
	StepperFrequency   uint32
	CalibrationTimeout time.Duration
	ActuationTimeout   time.Duration
	// CalibrationRetry is the pause between failed calibration attempts.
	CalibrationRetry time.Duration
}

func DefaultConfig() Config {
	return Config{
		StepperFrequency:   actuator.DefaultFrequency,
		CalibrationTimeout: 30 * time.Second,
		ActuationTimeout:   2 * time.Second,
		CalibrationRetry:   5 * time.Second,
	}
}

type Option func(*Task)

// WithRecorder stores every rendered frame.
func WithRecorder(r metrics.Recorder) Option {
	return func(t *Task) {
		t.recorder = r
	}
}

func WithLogger(l logger.Logger) Option {
	return func(t *Task) {
		t.log = l
	}
}

// Task is the gauge state machine. All of its fields except state are owned by
// the goroutine running Run.
type Task struct {
	cfg      Config
	hal      actuator.HAL
	renderer *render.Renderer
	inbox    mailbox.Receiver[event.GaugeEvent]
	report   event.Reporter
	recorder metrics.Recorder
	log      logger.Logger

	state atomic.Int32

	stepper     actuator.Stepper
	leds        actuator.LEDStrip
	stepperCall actuatorCall
	ledCall     actuatorCall
	frame       render.Frame
	backlightOn bool
}

func New(
	cfg Config,
	hal actuator.HAL,
	renderer *render.Renderer,
	inbox mailbox.Receiver[event.GaugeEvent],
	report event.Reporter,
	opts ...Option,
) *Task {
	t := &Task{
		cfg:      cfg,
		hal:      hal,
		renderer: renderer,
		inbox:    inbox,
		report:   report,
		recorder: metrics.Nop(),
		log:      logger.New(zerolog.Nop()),
		frame:    renderer.NewFrame(),
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

// State is safe to call from any goroutine.
func (t *Task) State() State {
	return State(t.state.Load())
}

func (t *Task) setState(s State) {
	t.state.Store(int32(s))
	t.log.Debug().Str("state", s.String()).Msg("Gauge state changed")
}

// Run drives the gauge until ctx is done. It returns nil on cancellation and
// an error only when the actuators cannot be acquired, which is reported to
// the supervisor first.
func (t *Task) Run(ctx context.Context) error {
	if err := t.acquire(); err != nil {
		t.fail(ctx, err, errors.CompleteFailure)
		return err
	}

	t.setState(StateCalibrating)
	t.stepper.SetFrequency(t.cfg.StepperFrequency)

	if err := t.calibrate(ctx); err != nil {
		return nil
	}

	t.setState(StateReady)
	if err := t.report.Initialized(ctx); err != nil {
		return nil
	}
	t.log.Info().Msg("Gauge calibrated and ready")

	for {
		ev, err := t.inbox.Receive(ctx)
		if err != nil {
			return nil
		}
		t.handle(ctx, ev)
	}
}

func (t *Task) acquire() error {
	errFactory := errors.New()

	stepper, err := t.hal.Stepper()
	if err != nil {
		return errFactory.Wrap(ErrAcquireFailed, err)
	}
	leds, err := t.hal.LEDs()
	if err != nil {
		return errFactory.Wrap(ErrAcquireFailed, err)
	}

	t.stepper = stepper
	t.leds = leds

	return nil
}

// calibrate retries until the stepper homes or ctx is done. Every failed
// attempt is a CompleteFailure since the needle is unusable until it homes.
func (t *Task) calibrate(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := t.stepperCall.call(ctx, t.cfg.CalibrationTimeout, t.stepper.Calibrate)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.log.Warn().Err(err).Int("attempt", attempt).Msg("Stepper calibration failed")
		t.fail(ctx, errors.New().Wrap(ErrCalibrationFailed, err), errors.CompleteFailure)

		timer := time.NewTimer(t.cfg.CalibrationRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *Task) handle(ctx context.Context, ev event.GaugeEvent) {
	switch e := ev.(type) {
	case event.NewSample:
		t.onSample(ctx, e)
	case event.BacklightChanged:
		t.backlightOn = e.On
		t.log.Debug().Bool("backlight_on", e.On).Msg("Backlight state changed")
	default:
		t.fail(ctx, errors.New().WithData(ErrUnknownEvent, fmt.Sprintf("%T", ev)), errors.EntirelyRecoverable)
	}
}

func (t *Task) onSample(ctx context.Context, e event.NewSample) {
	value, err := t.renderer.Accept(e.Sample.Datum)
	if err != nil {
		t.log.Debug().Str("datum", e.Sample.Datum.String()).Msg("Ignoring unsupported telemetry")
		t.fail(ctx, err, errors.EntirelyRecoverable)
		return
	}

	t.renderer.Render(&t.frame, value, t.backlightOn)
	cells, fill, target := t.frame.Cells, t.frame.FillLevel, t.frame.StepperTarget

	err = t.ledCall.call(ctx, t.cfg.ActuationTimeout, func(c context.Context) error {
		return t.leds.Write(c, cells)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if t.ledCall.busy() {
			// The abandoned write may still read the old cells.
			t.frame = t.renderer.NewFrame()
		}
		t.fail(ctx, errors.New().Wrap(ErrLEDWriteFailed, err), errors.LossOfSomeFunctionality)
	}

	err = t.stepperCall.call(ctx, t.cfg.ActuationTimeout, func(c context.Context) error {
		return t.stepper.SetPositionFromValue(c, target)
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		t.fail(ctx, errors.New().Wrap(ErrStepperWriteFailed, err), errors.LossOfSomeFunctionality)
	}

	if err := t.recorder.RecordFrame(ctx, &metrics.FrameSnapshot{
		Timestamp:     e.Sample.Timestamp,
		Value:         value,
		FillLevel:     fill,
		StepperTarget: target,
		BacklightOn:   t.backlightOn,
	}); err != nil {
		t.log.Debug().Err(err).Msg("Failed to record frame")
	}
}

// fail reports err to the supervisor. It only gives up when ctx is done.
func (t *Task) fail(ctx context.Context, err error, severity errors.Severity) {
	if sendErr := t.report.Fail(ctx, err, severity); sendErr != nil {
		t.log.Debug().Err(sendErr).AnErr("fault", err).Msg("Dropped fault report on shutdown")
	}
}
