// Package telemetry defines the samples telemetry sources deliver to the gauge.
package telemetry

import (
	"fmt"
	"time"
)

// Kind names the physical quantity a Datum carries.
type Kind uint8

const (
	KindRPM Kind = iota
	KindVehicleSpeed
	KindCoolantTemperature
	KindThrottlePosition
	KindEngineLoad
	KindIntakeAirTemperature
)

var kindNames = [...]string{
	KindRPM:                  "RPM",
	KindVehicleSpeed:         "VehicleSpeed",
	KindCoolantTemperature:   "CoolantTemperature",
	KindThrottlePosition:     "ThrottlePosition",
	KindEngineLoad:           "EngineLoad",
	KindIntakeAirTemperature: "IntakeAirTemperature",
}

var kindUnits = [...]string{
	KindRPM:                  "rpm",
	KindVehicleSpeed:         "km/h",
	KindCoolantTemperature:   "°C",
	KindThrottlePosition:     "%",
	KindEngineLoad:           "%",
	KindIntakeAirTemperature: "°C",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Unit returns the unit the value of this kind is expressed in.
func (k Kind) Unit() string {
	if int(k) < len(kindUnits) {
		return kindUnits[k]
	}

	return ""
}

// Datum is one named quantity and its value. The zero Datum is RPM(0).
type Datum struct {
	kind  Kind
	value float64
}

func NewDatum(kind Kind, value float64) Datum {
	return Datum{kind: kind, value: value}
}

func RPM(value float64) Datum {
	return Datum{kind: KindRPM, value: value}
}

func (d Datum) Kind() Kind {
	return d.kind
}

func (d Datum) Value() float64 {
	return d.value
}

// RPM returns the value when d carries engine speed.
func (d Datum) RPM() (float64, bool) {
	if d.kind != KindRPM {
		return 0, false
	}

	return d.value, true
}

func (d Datum) String() string {
	return fmt.Sprintf("%s(%g)", d.kind, d.value)
}

// Sample is a Datum stamped with when it was measured. It is passed by value
// and never modified after creation.
type Sample struct {
	Timestamp time.Time
	Datum     Datum
}

func NewSample(d Datum, at time.Time) Sample {
	return Sample{Timestamp: at, Datum: d}
}
