package gauge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/gaugectl/internal/actuator"
	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/gauge"
	"codeberg.org/mutker/gaugectl/internal/logger"
	"codeberg.org/mutker/gaugectl/internal/mailbox"
	"codeberg.org/mutker/gaugectl/internal/metrics"
	"codeberg.org/mutker/gaugectl/internal/render"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// journal records every actuator call in order.
type journal struct {
	mu     sync.Mutex
	ops    []string
	frames [][]render.Color
}

func (j *journal) add(op string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ops = append(j.ops, op)
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ops...)
}

func (j *journal) lastFrame() []render.Color {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.frames) == 0 {
		return nil
	}
	return j.frames[len(j.frames)-1]
}

type fakeStepper struct {
	j *journal
	// hangCalibrations is how many calibration attempts block until cancelled.
	hangCalibrations int32
	calibrations     atomic.Int32
}

func (s *fakeStepper) SetFrequency(stepsPerSecond uint32) {
	s.j.add(fmt.Sprintf("frequency:%d", stepsPerSecond))
}

func (s *fakeStepper) Calibrate(ctx context.Context) error {
	s.j.add("calibrate")
	if s.calibrations.Add(1) <= s.hangCalibrations {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (s *fakeStepper) SetPositionFromValue(_ context.Context, value float64) error {
	s.j.add(fmt.Sprintf("position:%g", value))
	return nil
}

type fakeLEDs struct {
	j         *journal
	failFirst bool
	writes    int
}

func (l *fakeLEDs) Write(_ context.Context, cells []render.Color) error {
	l.j.add("leds")
	l.writes++
	if l.failFirst && l.writes == 1 {
		return errors.New().WithMessage(errors.ErrTransport, "link down")
	}
	l.j.mu.Lock()
	l.j.frames = append(l.j.frames, append([]render.Color(nil), cells...))
	l.j.mu.Unlock()
	return nil
}

type fakeHAL struct {
	stepper    *fakeStepper
	leds       *fakeLEDs
	strip      actuator.LEDStrip
	stepperErr error
}

func (h *fakeHAL) Stepper() (actuator.Stepper, error) {
	if h.stepperErr != nil {
		return nil, h.stepperErr
	}
	return h.stepper, nil
}

func (h *fakeHAL) LEDs() (actuator.LEDStrip, error) {
	if h.strip != nil {
		return h.strip, nil
	}
	return h.leds, nil
}

// stalledLink never completes a write until released.
type stalledLink struct {
	calls   atomic.Int32
	release chan struct{}
}

func (w *stalledLink) Write(p []byte) (int, error) {
	w.calls.Add(1)
	<-w.release
	return len(p), nil
}

type fakeRecorder struct {
	mu     sync.Mutex
	frames []metrics.FrameSnapshot
}

func (r *fakeRecorder) RecordFrame(_ context.Context, s *metrics.FrameSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, *s)
	return nil
}

func (r *fakeRecorder) RecordFault(context.Context, *metrics.FaultRecord) error { return nil }
func (r *fakeRecorder) Close() error                                             { return nil }

type harness struct {
	j        *journal
	hal      *fakeHAL
	renderer *render.Renderer
	task     *gauge.Task
	inbox    mailbox.Sender[event.GaugeEvent]
	faults   mailbox.Receiver[event.SupervisorEvent]
	cancel   context.CancelFunc
	done     chan error
}

func newHarness(t *testing.T, cfg gauge.Config, mutate func(*fakeHAL), opts ...gauge.Option) *harness {
	t.Helper()

	j := &journal{}
	hal := &fakeHAL{stepper: &fakeStepper{j: j}, leds: &fakeLEDs{j: j}}
	if mutate != nil {
		mutate(hal)
	}

	inbox, err := mailbox.New[event.GaugeEvent](mailbox.DefaultCapacity)
	require.NoError(t, err)
	sup, err := mailbox.New[event.SupervisorEvent](mailbox.DefaultCapacity)
	require.NoError(t, err)

	rx, err := inbox.Receiver()
	require.NoError(t, err)
	faults, err := sup.Receiver()
	require.NoError(t, err)

	r, err := render.New(render.DefaultParams())
	require.NoError(t, err)

	h := &harness{
		j:        j,
		hal:      hal,
		renderer: r,
		task:     gauge.New(cfg, hal, r, rx, event.NewReporter(event.SubsystemGauge, sup.Sender()), opts...),
		inbox:    inbox.Sender(),
		faults:   faults,
		done:     make(chan error, 1),
	}
	t.Cleanup(h.stop)

	return h
}

func (h *harness) start() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- h.task.Run(ctx)
	}()
}

func (h *harness) stop() {
	if h.cancel != nil {
		h.cancel()
		<-h.done
		h.cancel = nil
	}
}

func (h *harness) send(t *testing.T, ev event.GaugeEvent) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.inbox.Send(ctx, ev))
}

func (h *harness) next(t *testing.T) event.SupervisorEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := h.faults.Receive(ctx)
	require.NoError(t, err)
	return ev
}

func (h *harness) waitOps(t *testing.T, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.j.snapshot()) >= n
	}, 2*time.Second, time.Millisecond)
	return h.j.snapshot()
}

func rpm(v float64) event.NewSample {
	return event.NewSample{Sample: telemetry.NewSample(telemetry.RPM(v), time.Now())}
}

func TestCalibratesBeforeAnyWrite(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), nil)

	// Queued before the task even starts.
	h.send(t, rpm(4500))
	h.start()

	assert.Equal(t, event.Initialized{From: event.SubsystemGauge}, h.next(t))
	assert.Equal(t, gauge.StateReady, h.task.State())

	ops := h.waitOps(t, 4)
	assert.Equal(t, []string{"frequency:128", "calibrate", "leds", "position:4500"}, ops)
}

func TestHalfScaleBacklightOff(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), nil)
	h.start()
	h.next(t)

	h.send(t, rpm(4500))
	h.waitOps(t, 4)

	want := h.renderer.RenderFrame(4500, false)
	assert.Equal(t, want.Cells, h.j.lastFrame())
	assert.Equal(t, 10, want.FillLevel)
}

func TestBacklightChangeOnlyAffectsNextFrame(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), nil)
	h.start()
	h.next(t)

	h.send(t, event.BacklightChanged{On: true})
	h.send(t, rpm(4500))
	ops := h.waitOps(t, 4)

	// frequency, calibrate, then exactly one write pair for the sample
	assert.Equal(t, []string{"leds", "position:4500"}, ops[2:])
	assert.Equal(t, h.renderer.RenderFrame(4500, true).Cells, h.j.lastFrame())
}

func TestUnsupportedTelemetryIsReportedWithoutWrites(t *testing.T) {
	rec := &fakeRecorder{}
	h := newHarness(t, gauge.DefaultConfig(), nil, gauge.WithRecorder(rec))
	h.start()
	h.next(t)

	h.send(t, rpm(4500))
	h.waitOps(t, 4)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) == 1
	}, 2*time.Second, time.Millisecond)
	before := h.j.lastFrame()

	h.send(t, event.NewSample{Sample: telemetry.NewSample(telemetry.NewDatum(telemetry.KindCoolantTemperature, 90), time.Now())})

	ev := h.next(t)
	failed, ok := ev.(event.Failed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, event.SubsystemGauge, failed.From)
	assert.Equal(t, errors.CauseMalformedInput, failed.Err.Cause())
	assert.Equal(t, errors.EntirelyRecoverable, failed.Err.Severity())

	// No writes and no new frame for the rejected sample.
	assert.Equal(t, []string{"frequency:128", "calibrate", "leds", "position:4500"}, h.j.snapshot())
	assert.Equal(t, before, h.j.lastFrame())
	rec.mu.Lock()
	assert.Len(t, rec.frames, 1)
	rec.mu.Unlock()

	// The loop keeps going.
	h.send(t, rpm(9000))
	ops := h.waitOps(t, 6)
	assert.Equal(t, "position:9000", ops[5])
}

func TestCalibrationTimeoutIsReportedAndRetried(t *testing.T) {
	cfg := gauge.DefaultConfig()
	cfg.CalibrationTimeout = 20 * time.Millisecond
	cfg.CalibrationRetry = time.Millisecond

	h := newHarness(t, cfg, func(hal *fakeHAL) {
		hal.stepper.hangCalibrations = 1
	})
	h.start()

	ev := h.next(t)
	failed, ok := ev.(event.Failed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, errors.CompleteFailure, failed.Err.Severity())
	assert.Equal(t, errors.CauseTimeout, failed.Err.Cause())
	assert.True(t, errors.Is(failed.Err, errors.New().New(gauge.ErrCalibrationFailed)))

	assert.Equal(t, event.Initialized{From: event.SubsystemGauge}, h.next(t))
	assert.Equal(t, []string{"frequency:128", "calibrate", "calibrate"}, h.j.snapshot())
}

func TestActuationFailureKeepsLoopRunning(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), func(hal *fakeHAL) {
		hal.leds.failFirst = true
	})
	h.start()
	h.next(t)

	h.send(t, rpm(1000))

	ev := h.next(t)
	failed, ok := ev.(event.Failed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, errors.LossOfSomeFunctionality, failed.Err.Severity())
	assert.Equal(t, errors.CauseTransport, failed.Err.Cause())

	// The stepper is still commanded after the LED failure.
	ops := h.waitOps(t, 4)
	assert.Equal(t, "position:1000", ops[3])

	h.send(t, rpm(2000))
	h.waitOps(t, 6)
	assert.Equal(t, h.renderer.RenderFrame(2000, false).Cells, h.j.lastFrame())
}

func TestAcquireFailureIsCompleteFailure(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), func(hal *fakeHAL) {
		hal.stepperErr = errors.New().New(errors.ErrTransport)
	})
	h.start()

	ev := h.next(t)
	failed, ok := ev.(event.Failed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, errors.CompleteFailure, failed.Err.Severity())

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.Equal(t, gauge.ErrAcquireFailed, errors.CodeOf(err))
		h.cancel()
		h.cancel = nil
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, gauge.StateUninitialized, h.task.State())
}

func TestRecordsFrames(t *testing.T) {
	rec := &fakeRecorder{}
	h := newHarness(t, gauge.DefaultConfig(), nil, gauge.WithRecorder(rec))
	h.start()
	h.next(t)

	h.send(t, event.BacklightChanged{On: true})
	h.send(t, rpm(4500))

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.frames) == 1
	}, 2*time.Second, time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.InDelta(t, 4500.0, rec.frames[0].Value, 0)
	assert.Equal(t, 10, rec.frames[0].FillLevel)
	assert.True(t, rec.frames[0].BacklightOn)
}

func TestRunReturnsNilOnCancel(t *testing.T) {
	h := newHarness(t, gauge.DefaultConfig(), nil)
	h.start()
	h.next(t)

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.cancel()
		h.cancel = nil
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestStalledLEDLinkHoldsOneGoroutine(t *testing.T) {
	link := &stalledLink{release: make(chan struct{})}
	cfg := gauge.DefaultConfig()
	cfg.ActuationTimeout = 5 * time.Millisecond

	h := newHarness(t, cfg, func(hal *fakeHAL) {
		hal.strip = actuator.NewLEDRing(link)
	})
	t.Cleanup(func() { close(link.release) })
	h.start()
	h.next(t)

	before := runtime.NumGoroutine()
	for i := 0; i < 50; i++ {
		h.send(t, rpm(float64(100*i)))
		failed, ok := h.next(t).(event.Failed)
		require.True(t, ok)
		assert.Equal(t, errors.CauseTimeout, failed.Err.Cause())
		assert.Equal(t, errors.LossOfSomeFunctionality, failed.Err.Severity())
	}

	// Only the first write ever reached the link.
	assert.Equal(t, int32(1), link.calls.Load())
	assert.LessOrEqual(t, runtime.NumGoroutine(), before+3)

	// The needle keeps moving while the ring is stuck.
	ops := h.waitOps(t, 52)
	assert.Equal(t, "position:4900", ops[len(ops)-1])
}

func TestActuatorCall(t *testing.T) {
	ctx := context.Background()
	var c gauge.ActuatorCall

	err := c.Call(ctx, 0, func(context.Context) error { return nil })
	assert.NoError(t, err)

	block := make(chan struct{})
	err = c.Call(ctx, 5*time.Millisecond, func(context.Context) error {
		<-block
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, errors.CauseTimeout, errors.CauseOf(err))
	assert.True(t, c.Busy())

	// The abandoned call still holds the actuator.
	started := false
	err = c.Call(ctx, 5*time.Millisecond, func(context.Context) error {
		started = true
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, errors.CauseTimeout, errors.CauseOf(err))
	assert.False(t, started)

	close(block)
	require.Eventually(t, func() bool { return !c.Busy() }, time.Second, time.Millisecond)
	assert.NoError(t, c.Call(ctx, time.Second, func(context.Context) error { return nil }))

	parent, cancel := context.WithCancel(ctx)
	cancel()
	err = c.Call(parent, time.Second, func(cctx context.Context) error {
		<-cctx.Done()
		return cctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDroppedReportLogsSendError(t *testing.T) {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)

	inbox, err := mailbox.New[event.GaugeEvent](1)
	require.NoError(t, err)
	rx, err := inbox.Receiver()
	require.NoError(t, err)

	// A full supervisor mailbox and a cancelled ctx: the report cannot go out.
	sup, err := mailbox.New[event.SupervisorEvent](1)
	require.NoError(t, err)
	require.NoError(t, sup.Sender().Send(context.Background(), event.Initialized{From: event.SubsystemBacklight}))

	r, err := render.New(render.DefaultParams())
	require.NoError(t, err)

	var buf bytes.Buffer
	hal := &fakeHAL{stepperErr: errors.New().New(errors.ErrTransport)}
	task := gauge.New(gauge.DefaultConfig(), hal, r, rx,
		event.NewReporter(event.SubsystemGauge, sup.Sender()),
		gauge.WithLogger(logger.New(zerolog.New(&buf))))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, task.Run(ctx))

	var line map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		if m["message"] == "Dropped fault report on shutdown" {
			line = m
		}
	}
	require.NotNil(t, line)
	assert.Contains(t, line["error"], context.Canceled.Error())
	assert.Contains(t, line["fault"], errors.GetErrorMessage(errors.ErrTransport))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", gauge.StateUninitialized.String())
	assert.Equal(t, "calibrating", gauge.StateCalibrating.String())
	assert.Equal(t, "ready", gauge.StateReady.String())
	assert.Equal(t, "State(7)", gauge.State(7).String())
}
