// Package event defines the messages tasks exchange through mailboxes.
package event

import (
	"fmt"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
)

// GaugeEvent is consumed by the gauge task. It is either NewSample or
// BacklightChanged.
type GaugeEvent interface {
	gaugeEvent()
}

type NewSample struct {
	Sample telemetry.Sample
}

// BacklightChanged carries the new state reported by the backlight sensor.
type BacklightChanged struct {
	On bool
}

func (NewSample) gaugeEvent()        {}
func (BacklightChanged) gaugeEvent() {}

// Subsystem identifies the task an event to the supervisor came from.
type Subsystem uint8

const (
	SubsystemGauge Subsystem = iota
	SubsystemDisplay
	SubsystemTelemetrySource
	SubsystemBacklight
)

var subsystemNames = [...]string{
	SubsystemGauge:           "gauge",
	SubsystemDisplay:         "display",
	SubsystemTelemetrySource: "telemetry_source",
	SubsystemBacklight:       "backlight",
}

func (s Subsystem) String() string {
	if int(s) < len(subsystemNames) {
		return subsystemNames[s]
	}

	return fmt.Sprintf("Subsystem(%d)", uint8(s))
}

// SupervisorEvent is consumed by the supervisor. It is either Initialized or
// Failed.
type SupervisorEvent interface {
	Subsystem() Subsystem
	supervisorEvent()
}

// Initialized reports that a subsystem finished its startup.
type Initialized struct {
	From Subsystem
}

// Failed reports a fault. Err always carries a severity.
type Failed struct {
	From Subsystem
	Err  *errors.SeverityError
}

func (e Initialized) Subsystem() Subsystem { return e.From }
func (e Failed) Subsystem() Subsystem      { return e.From }

func (Initialized) supervisorEvent() {}
func (Failed) supervisorEvent()      {}
