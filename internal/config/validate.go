package config

import (
	"encoding/hex"
	"strings"

	"codeberg.org/mutker/gaugectl/internal/errors"
)

type validator struct {
	errs ValidationErrors
}

func (v *validator) check(ok bool, field string, value interface{}, reason string) {
	if !ok {
		v.errs = append(v.errs, &fieldError{field: field, value: value, reason: reason})
	}
}

// Validate reports every invalid field at once, wrapped in ErrInvalidConfig.
func (c *Config) Validate() error {
	errs := c.validate()
	if len(errs) == 0 {
		return nil
	}

	return errors.New().Wrap(errors.ErrInvalidConfig, errs)
}

// Status returns the validation result without failing.
func (c *Config) Status() Status {
	errs := c.validate()
	return Status{
		Valid:            len(errs) == 0,
		ValidationErrors: errs,
	}
}

func (c *Config) validate() ValidationErrors {
	v := &validator{}

	v.check(c.Log.Level.IsValid(), "log.level", c.Log.Level, "must be one of debug, info, warning, error")
	v.check(c.Log.MaxSizeMB >= 0, "log.max_size_mb", c.Log.MaxSizeMB, "must not be negative")
	v.check(c.Log.MaxBackups >= 0, "log.max_backups", c.Log.MaxBackups, "must not be negative")
	v.check(c.Log.MaxAgeDays >= 0, "log.max_age_days", c.Log.MaxAgeDays, "must not be negative")

	g := c.Gauge
	v.check(g.LEDs > 0, "gauge.leds", g.LEDs, "must be positive")
	v.check(g.LabelLEDs >= 0 && g.LabelLEDs <= g.LEDs, "gauge.label_leds", g.LabelLEDs, "must be within [0, gauge.leds]")
	v.check(g.ZeroOffset >= 0 && g.ZeroOffset < g.LEDs, "gauge.zero_offset", g.ZeroOffset, "must be within [0, gauge.leds)")
	v.check(g.FillLevels >= 0 && g.FillLevels < g.LEDs, "gauge.fill_levels", g.FillLevels, "must be within [0, gauge.leds)")
	v.check(g.DomainMax > 0, "gauge.domain_max", g.DomainMax, "must be positive")
	v.check(g.BrightMultiplier >= 0, "gauge.bright_multiplier", g.BrightMultiplier, "must not be negative")
	v.check(g.DimMultiplier >= 0, "gauge.dim_multiplier", g.DimMultiplier, "must not be negative")
	v.check(g.StepperFrequency > 0, "gauge.stepper_frequency", g.StepperFrequency, "must be positive")
	v.check(g.StepperMaxSteps > 0, "gauge.stepper_max_steps", g.StepperMaxSteps, "must be positive")
	v.check(g.CalibrationTimeout >= 0, "gauge.calibration_timeout", g.CalibrationTimeout, "must not be negative")
	v.check(g.ActuationTimeout >= 0, "gauge.actuation_timeout", g.ActuationTimeout, "must not be negative")
	v.check(g.CalibrationRetry > 0, "gauge.calibration_retry", g.CalibrationRetry, "must be positive")

	v.check(c.Channels.Capacity > 0, "channels.capacity", c.Channels.Capacity, "must be positive")

	s := c.Source
	switch s.Kind {
	case SourceNone:
	case SourceELM:
		v.check(s.ELM.Port != "", "source.elm.port", s.ELM.Port, "must be set")
		v.check(s.ELM.BaudRate > 0, "source.elm.baud_rate", s.ELM.BaudRate, "must be positive")
		v.check(s.ELM.ReadTimeout > 0, "source.elm.read_timeout", s.ELM.ReadTimeout, "must be positive")
		v.check(len(s.ELM.PIDs) > 0, "source.elm.pids", s.ELM.PIDs, "must list at least one pid")
		for _, pid := range s.ELM.PIDs {
			v.check(validPID(pid), "source.elm.pids", pid, "must be a two digit hex pid")
		}
		v.check(s.PollInterval > 0, "source.poll_interval", s.PollInterval, "must be positive")
	case SourceModbus:
		v.check(s.Modbus.Endpoint != "", "source.modbus.endpoint", s.Modbus.Endpoint, "must be set")
		v.check(s.Modbus.Scale > 0, "source.modbus.scale", s.Modbus.Scale, "must be positive")
		v.check(s.Modbus.Timeout > 0, "source.modbus.timeout", s.Modbus.Timeout, "must be positive")
		v.check(s.PollInterval > 0, "source.poll_interval", s.PollInterval, "must be positive")
	default:
		v.check(false, "source.kind", s.Kind, "must be one of none, elm, modbus")
	}

	if c.Backlight.Path != "" {
		v.check(c.Backlight.PollInterval > 0, "backlight.poll_interval", c.Backlight.PollInterval, "must be positive")
	}

	if c.LEDs.Port != "" {
		v.check(c.LEDs.BaudRate > 0, "leds.baud_rate", c.LEDs.BaudRate, "must be positive")
	}

	if c.Metrics.Enabled {
		v.check(c.Metrics.DBPath != "", "metrics.db_path", c.Metrics.DBPath, "must be set when metrics are enabled")
	}
	v.check(c.Metrics.BatchSize >= 0, "metrics.batch_size", c.Metrics.BatchSize, "must not be negative")
	v.check(c.Metrics.BatchTimeout >= 0, "metrics.batch_timeout", c.Metrics.BatchTimeout, "must not be negative")

	v.check(c.PIDFile != "", "pid_file", c.PIDFile, "must be set")

	return v.errs
}

func validPID(pid string) bool {
	if len(pid) != 2 {
		return false
	}
	_, err := hex.DecodeString(strings.ToUpper(pid))
	return err == nil
}
