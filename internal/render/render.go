// Package render turns a telemetry value into an LED ring frame and a stepper
// target. Rendering is a pure function of its inputs.
package render

import (
	"fmt"
	"math"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
)

// Params describes the ring geometry and the brightness policy.
type Params struct {
	LEDs       int
	LabelLEDs  int
	ZeroOffset int
	FillLevels int
	DomainMax  float64
	// BrightMultiplier applies while the backlight reports on and
	// DimMultiplier while it reports off.
	BrightMultiplier float32
	DimMultiplier    float32
}

func DefaultParams() Params {
	return Params{
		LEDs:             24,
		LabelLEDs:        5,
		ZeroOffset:       9,
		FillLevels:       19,
		DomainMax:        9000,
		BrightMultiplier: 1.0,
		DimMultiplier:    0.5,
	}
}

func (p Params) Validate() error {
	errFactory := errors.New()

	switch {
	case p.LEDs <= 0:
		return errFactory.WithData(ErrInvalidParams, fmt.Sprintf("leds must be positive, got %d", p.LEDs))
	case p.LabelLEDs < 0 || p.LabelLEDs > p.LEDs:
		return errFactory.WithData(ErrInvalidParams, fmt.Sprintf("label_leds must be within [0, %d], got %d", p.LEDs, p.LabelLEDs))
	case p.ZeroOffset < 0 || p.ZeroOffset >= p.LEDs:
		return errFactory.WithData(ErrInvalidParams, fmt.Sprintf("zero_offset must be within [0, %d), got %d", p.LEDs, p.ZeroOffset))
	case p.FillLevels < 0 || p.FillLevels >= p.LEDs:
		return errFactory.WithData(ErrInvalidParams, fmt.Sprintf("fill_levels must be within [0, %d), got %d", p.LEDs, p.FillLevels))
	case !(p.DomainMax > 0) || math.IsInf(p.DomainMax, 0):
		return errFactory.WithData(ErrInvalidParams, fmt.Sprintf("domain_max must be positive, got %g", p.DomainMax))
	case p.BrightMultiplier < 0 || p.DimMultiplier < 0:
		return errFactory.WithData(ErrInvalidParams, "brightness multipliers must not be negative")
	}

	return nil
}

// Frame is the gauge's working actuator state.
type Frame struct {
	Cells         []Color
	FillLevel     int
	StepperTarget float64
}

type Renderer struct {
	p Params
}

func New(p Params) (*Renderer, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &Renderer{p: p}, nil
}

func (r *Renderer) Params() Params {
	return r.p
}

// NewFrame allocates a frame sized for the ring, all cells off.
func (r *Renderer) NewFrame() Frame {
	return Frame{Cells: make([]Color, r.p.LEDs)}
}

// Accept extracts the value to render from d. Only engine speed is rendered.
func (r *Renderer) Accept(d telemetry.Datum) (float64, error) {
	v, ok := d.RPM()
	if !ok {
		return 0, errors.New().WithData(ErrUnsupportedDatum, fmt.Sprintf("gauge renders RPM only, got %s", d))
	}

	return v, nil
}

// FillLevel normalizes value onto [0, FillLevels].
func (r *Renderer) FillLevel(value float64) int {
	if math.IsNaN(value) {
		return 0
	}

	level := math.Round(float64(r.p.FillLevels) * value / r.p.DomainMax)

	return int(math.Max(0, math.Min(float64(r.p.FillLevels), level)))
}

// Render overwrites f with the frame for value. f must come from NewFrame.
func (r *Renderer) Render(f *Frame, value float64, backlightOn bool) {
	level := r.FillLevel(value)

	factor := r.p.DimMultiplier
	if backlightOn {
		factor = r.p.BrightMultiplier
	}

	n := r.p.LEDs
	for i := range f.Cells {
		offset := (i + r.p.ZeroOffset) % n

		switch {
		case offset <= level:
			f.Cells[i] = Dim(Wheel(uint8((offset*12)%256)), factor)
		case offset >= n-r.p.LabelLEDs:
			f.Cells[i] = Dim(White, factor)
		default:
			f.Cells[i] = Black
		}
	}

	f.FillLevel = level
	f.StepperTarget = value
}

// RenderFrame is Render into a freshly allocated frame.
func (r *Renderer) RenderFrame(value float64, backlightOn bool) Frame {
	f := r.NewFrame()
	r.Render(&f, value, backlightOn)

	return f
}
