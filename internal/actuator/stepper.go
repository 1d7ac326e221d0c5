package actuator

import (
	"context"
	"math"
	"sync"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/logger"
)

const DefaultFrequency = 128

// StepperLimits maps the value domain onto the needle's travel.
type StepperLimits struct {
	MaxSteps  int
	DomainMax float64
}

// SimStepper models a stepper whose moves take steps/frequency seconds. It
// stands in for the motor driver on hosts without one.
type SimStepper struct {
	limits       StepperLimits
	frequency    uint32
	position     int
	lastPosition int
	calibrated   bool
	mu           sync.RWMutex
	logger       logger.Logger
}

func NewSimStepper(limits StepperLimits, log logger.Logger) (*SimStepper, error) {
	if limits.MaxSteps <= 0 || !(limits.DomainMax > 0) {
		return nil, errors.New().WithData(ErrInvalidLimits, limits)
	}

	return &SimStepper{
		limits:    limits,
		frequency: DefaultFrequency,
		logger:    log,
	}, nil
}

func (s *SimStepper) SetFrequency(stepsPerSecond uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stepsPerSecond == 0 {
		stepsPerSecond = DefaultFrequency
	}
	s.frequency = stepsPerSecond
}

// Calibrate sweeps to the far stop and back to zero.
func (s *SimStepper) Calibrate(ctx context.Context) error {
	s.logger.Debug().Int("max_steps", s.limits.MaxSteps).Msg("Calibrating stepper")

	if err := s.move(ctx, s.limits.MaxSteps); err != nil {
		return err
	}
	if err := s.move(ctx, 0); err != nil {
		return err
	}

	s.mu.Lock()
	s.calibrated = true
	s.mu.Unlock()

	return nil
}

func (s *SimStepper) SetPositionFromValue(ctx context.Context, value float64) error {
	s.mu.RLock()
	calibrated := s.calibrated
	s.mu.RUnlock()

	if !calibrated {
		return errors.New().New(ErrNotCalibrated)
	}

	return s.move(ctx, StepsForValue(value, s.limits))
}

func (s *SimStepper) Position() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

func (s *SimStepper) LastPosition() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPosition
}

func (s *SimStepper) IsCalibrated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calibrated
}

func (s *SimStepper) move(ctx context.Context, target int) error {
	s.mu.RLock()
	steps := abs(target - s.position)
	frequency := s.frequency
	s.mu.RUnlock()

	if steps > 0 {
		d := time.Duration(steps) * time.Second / time.Duration(frequency)
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return errors.New().Wrap(ErrMoveAborted, ctx.Err())
		}
	}

	s.mu.Lock()
	s.lastPosition = s.position
	s.position = target
	s.mu.Unlock()

	return nil
}

// StepsForValue maps value linearly onto [0, MaxSteps].
func StepsForValue(value float64, limits StepperLimits) int {
	if math.IsNaN(value) {
		return 0
	}

	steps := math.Round(value / limits.DomainMax * float64(limits.MaxSteps))

	return int(math.Max(0, math.Min(float64(limits.MaxSteps), steps)))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}

	return x
}
