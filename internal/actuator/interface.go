package actuator

import (
	"context"

	"codeberg.org/mutker/gaugectl/internal/render"
)

// HAL hands out the actuator handles a gauge needs.
type HAL interface {
	Stepper() (Stepper, error)
	LEDs() (LEDStrip, error)
}

// Stepper drives the gauge needle.
type Stepper interface {
	SetFrequency(stepsPerSecond uint32)
	// Calibrate homes the needle, establishing its zero and maximum.
	Calibrate(ctx context.Context) error
	// SetPositionFromValue maps a physical quantity to a step target and
	// moves there.
	SetPositionFromValue(ctx context.Context, value float64) error
}

// LEDStrip transmits a full frame of cells.
type LEDStrip interface {
	Write(ctx context.Context, cells []render.Color) error
}
