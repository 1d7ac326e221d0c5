package app_test

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codeberg.org/mutker/gaugectl/internal/actuator"
	"codeberg.org/mutker/gaugectl/internal/app"
	"codeberg.org/mutker/gaugectl/internal/config"
	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/event"
	"codeberg.org/mutker/gaugectl/internal/metrics"
	"codeberg.org/mutker/gaugectl/internal/render"
	"codeberg.org/mutker/gaugectl/internal/source/modbus"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type board struct {
	mu        sync.Mutex
	positions []float64
	frames    int
	panics    bool
}

func (b *board) Stepper() (actuator.Stepper, error) {
	if b.panics {
		panic("stepper bus fault")
	}
	return b, nil
}

func (b *board) LEDs() (actuator.LEDStrip, error) { return b, nil }

func (b *board) SetFrequency(uint32) {}

func (b *board) Calibrate(context.Context) error { return nil }

func (b *board) SetPositionFromValue(_ context.Context, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = append(b.positions, value)
	return nil
}

func (b *board) Write(context.Context, []render.Color) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames++
	return nil
}

func (b *board) lastPosition() (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.positions) == 0 {
		return 0, false
	}
	return b.positions[len(b.positions)-1], true
}

type register struct{ value uint16 }

func (r register) ReadHoldingRegisters(_, _ uint16) ([]uint16, error) {
	return []uint16{r.value}, nil
}

func (register) Close() error { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PIDFile = filepath.Join(t.TempDir(), "gaugectl.pid")
	cfg.Gauge.CalibrationRetry = 10 * time.Millisecond
	return cfg
}

func runApp(t *testing.T, a *app.App) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("app did not stop")
		return nil
	}
}

func TestModbusSourceDrivesGauge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = config.SourceModbus
	cfg.Source.PollInterval = 5 * time.Millisecond
	cfg.Source.Modbus.Scale = 2

	hal := &board{}
	a, err := app.New(cfg,
		app.WithHAL(hal),
		app.WithModbusDialer(func() (modbus.Client, error) { return register{value: 2250}, nil }),
	)
	require.NoError(t, err)

	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool {
		v, ok := hal.lastPosition()
		return ok && v == 4500
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		st := a.Status()
		return st.Initialized[event.SubsystemGauge] && st.Initialized[event.SubsystemTelemetrySource]
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.NoError(t, a.Close())
}

func TestInboxAcceptsExternalSamples(t *testing.T) {
	hal := &board{}
	a, err := app.New(testConfig(t), app.WithHAL(hal))
	require.NoError(t, err)

	cancel, done := runApp(t, a)

	sample := event.NewSample{Sample: telemetry.NewSample(telemetry.RPM(3000), time.Now())}
	require.NoError(t, a.Inbox().Send(context.Background(), sample))

	require.Eventually(t, func() bool {
		v, ok := hal.lastPosition()
		return ok && v == 3000
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	assert.NoError(t, a.Close())
}

func TestPanicIsReportedAsCompleteFailure(t *testing.T) {
	var mu sync.Mutex
	var alerts []event.Failed

	a, err := app.New(testConfig(t),
		app.WithHAL(&board{panics: true}),
		app.WithAlerter(alertFunc(func(f event.Failed) {
			mu.Lock()
			defer mu.Unlock()
			alerts = append(alerts, f)
		})),
	)
	require.NoError(t, err)

	cancel, done := runApp(t, a)

	require.Eventually(t, func() bool {
		return a.Status().Faults[errors.CompleteFailure] == 1
	}, 2*time.Second, 5*time.Millisecond)

	st := a.Status()
	require.NotNil(t, st.LastFault)
	assert.Equal(t, event.SubsystemGauge, st.LastFault.From)
	assert.Equal(t, errors.ErrTaskPanic, errors.CodeOf(st.LastFault.Err))

	mu.Lock()
	assert.Len(t, alerts, 1)
	mu.Unlock()

	// The supervisor outlives the panicking task until shutdown.
	select {
	case err := <-done:
		t.Fatalf("app stopped early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	cancel()
	err = waitDone(t, done)
	require.Error(t, err)
	assert.Equal(t, errors.ErrTaskPanic, errors.CodeOf(err))
}

func TestMetricsAreRecorded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = true
	cfg.Metrics.DBPath = filepath.Join(t.TempDir(), "metrics.db")
	cfg.Metrics.BatchSize = 1

	hal := &board{}
	a, err := app.New(cfg, app.WithHAL(hal))
	require.NoError(t, err)

	cancel, done := runApp(t, a)

	sample := event.NewSample{Sample: telemetry.NewSample(telemetry.RPM(1000), time.Now())}
	require.NoError(t, a.Inbox().Send(context.Background(), sample))
	require.Eventually(t, func() bool {
		_, ok := hal.lastPosition()
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
	require.NoError(t, a.Close())

	_, err = os.Stat(cfg.Metrics.DBPath)
	assert.NoError(t, err)
}

func TestNewRejectsBadELMPIDs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = config.SourceELM
	cfg.Source.ELM.PIDs = []string{"zz"}

	_, err := app.New(cfg, app.WithHAL(&board{}))
	assert.Error(t, err)
}

func TestNewRejectsZeroCapacity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Channels.Capacity = 0

	_, err := app.New(cfg, app.WithHAL(&board{}))
	assert.Error(t, err)
}

// faultSink panics on the first fault it is asked to record.
type faultSink struct {
	panicked atomic.Bool
}

func (r *faultSink) RecordFrame(context.Context, *metrics.FrameSnapshot) error { return nil }
func (r *faultSink) Close() error                                             { return nil }

func (r *faultSink) RecordFault(context.Context, *metrics.FaultRecord) error {
	if r.panicked.CompareAndSwap(false, true) {
		panic("fault store corrupted")
	}
	return nil
}

func TestSupervisorIsRestartedAfterPanic(t *testing.T) {
	cfg := testConfig(t)
	cfg.Source.Kind = config.SourceModbus

	hal := &board{}
	sink := &faultSink{}
	a, err := app.New(cfg,
		app.WithHAL(hal),
		app.WithRecorder(sink),
		app.WithModbusDialer(func() (modbus.Client, error) {
			return nil, stderrors.New("connection refused")
		}),
	)
	require.NoError(t, err)

	cancel, done := runApp(t, a)

	require.Eventually(t, sink.panicked.Load, 2*time.Second, 5*time.Millisecond)

	// More rejected samples than the supervisor mailbox holds.
	coolant := event.NewSample{Sample: telemetry.NewSample(telemetry.NewDatum(telemetry.KindCoolantTemperature, 90), time.Now())}
	for i := 0; i < 2*cfg.Channels.Capacity; i++ {
		require.NoError(t, a.Inbox().Send(context.Background(), coolant))
	}
	require.NoError(t, a.Inbox().Send(context.Background(),
		event.NewSample{Sample: telemetry.NewSample(telemetry.RPM(4321), time.Now())}))

	require.Eventually(t, func() bool {
		v, ok := hal.lastPosition()
		return ok && v == 4321
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return a.Status().Faults[errors.EntirelyRecoverable] == 2*cfg.Channels.Capacity
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, waitDone(t, done))
}

type alertFunc func(event.Failed)

func (f alertFunc) Alert(_ context.Context, failure event.Failed) { f(failure) }
