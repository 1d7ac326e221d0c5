package elm

import (
	"encoding/hex"
	"fmt"
	"strings"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"codeberg.org/mutker/gaugectl/internal/telemetry"
)

// PID is a mode 01 parameter id.
type PID byte

const (
	PIDEngineLoad       PID = 0x04
	PIDCoolantTemp      PID = 0x05
	PIDRPM              PID = 0x0C
	PIDVehicleSpeed     PID = 0x0D
	PIDIntakeAirTemp    PID = 0x0F
	PIDThrottlePosition PID = 0x11
)

type pidDecoder struct {
	kind   telemetry.Kind
	bytes  int
	decode func(b []byte) float64
}

var pids = map[PID]pidDecoder{
	PIDEngineLoad:       {telemetry.KindEngineLoad, 1, percent},
	PIDCoolantTemp:      {telemetry.KindCoolantTemperature, 1, celsius},
	PIDRPM:              {telemetry.KindRPM, 2, func(b []byte) float64 { return float64(256*int(b[0])+int(b[1])) / 4 }},
	PIDVehicleSpeed:     {telemetry.KindVehicleSpeed, 1, func(b []byte) float64 { return float64(b[0]) }},
	PIDIntakeAirTemp:    {telemetry.KindIntakeAirTemperature, 1, celsius},
	PIDThrottlePosition: {telemetry.KindThrottlePosition, 1, percent},
}

func percent(b []byte) float64 { return 100 * float64(b[0]) / 255 }
func celsius(b []byte) float64 { return float64(int(b[0]) - 40) }

func (p PID) String() string {
	return fmt.Sprintf("%02X", byte(p))
}

// Request is the command that asks for p.
func (p PID) Request() string {
	return "01" + p.String()
}

// ParsePID accepts a two digit hex id the source knows how to decode.
func ParsePID(s string) (PID, error) {
	errFactory := errors.New()

	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) != 1 {
		return 0, errFactory.WithData(ErrUnknownPID, s)
	}
	p := PID(b[0])
	if _, ok := pids[p]; !ok {
		return 0, errFactory.WithData(ErrUnknownPID, s)
	}

	return p, nil
}

// ParsePIDs parses every entry or fails on the first bad one.
func ParsePIDs(list []string) ([]PID, error) {
	out := make([]PID, 0, len(list))
	for _, s := range list {
		p, err := ParsePID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseResponse extracts the data bytes answering a request for p from a raw
// reply, prompt excluded. Spaces and line breaks are tolerated whether or not
// the adapter has them turned off.
func ParseResponse(p PID, raw []byte) ([]byte, error) {
	errFactory := errors.New()
	want := "41" + p.String()

	lines := strings.FieldsFunc(strings.ToUpper(string(raw)), func(r rune) bool {
		return r == '\r' || r == '\n'
	})
	for _, line := range lines {
		line = strings.ReplaceAll(line, " ", "")
		switch {
		case line == "", strings.HasPrefix(line, "SEARCHING"):
			continue
		case strings.Contains(line, "NODATA"):
			return nil, errFactory.WithData(ErrNoData, p.String())
		case !strings.HasPrefix(line, want):
			continue
		}

		data, err := hex.DecodeString(line[len(want):])
		if err != nil {
			return nil, errFactory.WithData(ErrMalformedReply, line)
		}
		return data, nil
	}

	return nil, errFactory.WithData(ErrMalformedReply, strings.TrimSpace(string(raw)))
}

// Decode converts the data bytes for p into a datum.
func Decode(p PID, data []byte) (telemetry.Datum, error) {
	errFactory := errors.New()

	d, ok := pids[p]
	if !ok {
		return telemetry.Datum{}, errFactory.WithData(ErrUnknownPID, p.String())
	}
	if len(data) < d.bytes {
		return telemetry.Datum{}, errFactory.WithData(ErrMalformedReply,
			fmt.Sprintf("pid %s wants %d bytes, got %d", p, d.bytes, len(data)))
	}

	return telemetry.NewDatum(d.kind, d.decode(data)), nil
}
