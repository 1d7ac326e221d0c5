package config

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/gaugectl/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultEnvPrefix  = "GAUGECTL"
	DefaultConfigPath = "/etc/gaugectl/gaugectl.yaml"

	SourceNone   = "none"
	SourceELM    = "elm"
	SourceModbus = "modbus"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Gauge     GaugeConfig     `mapstructure:"gauge" yaml:"gauge"`
	Channels  ChannelsConfig  `mapstructure:"channels" yaml:"channels"`
	Source    SourceConfig    `mapstructure:"source" yaml:"source"`
	Backlight BacklightConfig `mapstructure:"backlight" yaml:"backlight"`
	LEDs      LEDsConfig      `mapstructure:"leds" yaml:"leds"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	PIDFile   string          `mapstructure:"pid_file" yaml:"pid_file"`
}

type LogConfig struct {
	Level      LogLevel `mapstructure:"level" yaml:"level"`
	File       string   `mapstructure:"file" yaml:"file"`
	Async      bool     `mapstructure:"async" yaml:"async"`
	MaxSizeMB  int      `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int      `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int      `mapstructure:"max_age_days" yaml:"max_age_days"`
}

type GaugeConfig struct {
	LEDs               int           `mapstructure:"leds" yaml:"leds"`
	LabelLEDs          int           `mapstructure:"label_leds" yaml:"label_leds"`
	ZeroOffset         int           `mapstructure:"zero_offset" yaml:"zero_offset"`
	FillLevels         int           `mapstructure:"fill_levels" yaml:"fill_levels"`
	DomainMax          float64       `mapstructure:"domain_max" yaml:"domain_max"`
	BrightMultiplier   float64       `mapstructure:"bright_multiplier" yaml:"bright_multiplier"`
	DimMultiplier      float64       `mapstructure:"dim_multiplier" yaml:"dim_multiplier"`
	StepperFrequency   uint32        `mapstructure:"stepper_frequency" yaml:"stepper_frequency"`
	StepperMaxSteps    int           `mapstructure:"stepper_max_steps" yaml:"stepper_max_steps"`
	CalibrationTimeout time.Duration `mapstructure:"calibration_timeout" yaml:"calibration_timeout"`
	ActuationTimeout   time.Duration `mapstructure:"actuation_timeout" yaml:"actuation_timeout"`
	CalibrationRetry   time.Duration `mapstructure:"calibration_retry" yaml:"calibration_retry"`
}

type ChannelsConfig struct {
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
}

type SourceConfig struct {
	Kind         string        `mapstructure:"kind" yaml:"kind"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	ELM          ELMConfig     `mapstructure:"elm" yaml:"elm"`
	Modbus       ModbusConfig  `mapstructure:"modbus" yaml:"modbus"`
}

type ELMConfig struct {
	Port        string        `mapstructure:"port" yaml:"port"`
	BaudRate    int           `mapstructure:"baud_rate" yaml:"baud_rate"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	PIDs        []string      `mapstructure:"pids" yaml:"pids"`
}

type ModbusConfig struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	UnitID   uint8         `mapstructure:"unit_id" yaml:"unit_id"`
	Register uint16        `mapstructure:"register" yaml:"register"`
	Scale    float64       `mapstructure:"scale" yaml:"scale"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type BacklightConfig struct {
	Path         string        `mapstructure:"path" yaml:"path"`
	Threshold    int           `mapstructure:"threshold" yaml:"threshold"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

type LEDsConfig struct {
	Port     string `mapstructure:"port" yaml:"port"`
	BaudRate int    `mapstructure:"baud_rate" yaml:"baud_rate"`
}

type MetricsConfig struct {
	Enabled      bool          `mapstructure:"enabled" yaml:"enabled"`
	DBPath       string        `mapstructure:"db_path" yaml:"db_path"`
	BatchSize    int           `mapstructure:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout" yaml:"batch_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", string(LogLevelInfo))
	v.SetDefault("log.file", "")
	v.SetDefault("log.async", true)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("gauge.leds", 24)
	v.SetDefault("gauge.label_leds", 5)
	v.SetDefault("gauge.zero_offset", 9)
	v.SetDefault("gauge.fill_levels", 19)
	v.SetDefault("gauge.domain_max", 9000.0)
	v.SetDefault("gauge.bright_multiplier", 1.0)
	v.SetDefault("gauge.dim_multiplier", 0.5)
	v.SetDefault("gauge.stepper_frequency", 128)
	v.SetDefault("gauge.stepper_max_steps", 135)
	v.SetDefault("gauge.calibration_timeout", 30*time.Second)
	v.SetDefault("gauge.actuation_timeout", 2*time.Second)
	v.SetDefault("gauge.calibration_retry", 5*time.Second)

	v.SetDefault("channels.capacity", 10)

	v.SetDefault("source.kind", SourceNone)
	v.SetDefault("source.poll_interval", 100*time.Millisecond)
	v.SetDefault("source.elm.port", "/dev/ttyUSB0")
	v.SetDefault("source.elm.baud_rate", 38400)
	v.SetDefault("source.elm.read_timeout", time.Second)
	v.SetDefault("source.elm.pids", []string{"0C"})
	v.SetDefault("source.modbus.endpoint", "127.0.0.1:502")
	v.SetDefault("source.modbus.unit_id", 1)
	v.SetDefault("source.modbus.register", 0)
	v.SetDefault("source.modbus.scale", 1.0)
	v.SetDefault("source.modbus.timeout", time.Second)

	v.SetDefault("backlight.path", "")
	v.SetDefault("backlight.threshold", 0)
	v.SetDefault("backlight.poll_interval", 500*time.Millisecond)

	v.SetDefault("leds.port", "")
	v.SetDefault("leds.baud_rate", 115200)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.db_path", "/var/lib/gaugectl/metrics.db")
	v.SetDefault("metrics.batch_size", 50)
	v.SetDefault("metrics.batch_timeout", 5*time.Second)

	v.SetDefault("pid_file", filepath.Join(os.TempDir(), "gaugectl.pid"))
}

// Default returns the built-in configuration, ignoring files, env and flags.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	cfg := &Config{}
	_ = v.Unmarshal(cfg)

	return cfg
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("gaugectl", pflag.ContinueOnError)

	fs.StringP("config", "c", "", "Path to the configuration file")
	fs.String("log-level", string(LogLevelInfo), "Log level (debug, info, warning, error)")
	fs.String("log-file", "", "Also write logs to this file, rotated")
	fs.String("source", SourceNone, "Telemetry source (none, elm, modbus)")
	fs.String("elm-port", "", "Serial port of the ELM327 adapter")
	fs.String("modbus-endpoint", "", "Modbus TCP endpoint, host:port")
	fs.String("backlight-path", "", "File holding the backlight level")
	fs.String("leds-port", "", "Serial port of the LED ring")
	fs.Bool("metrics", false, "Record frames and faults to SQLite")
	fs.String("pid-file", "", "Path of the pid file")

	return fs
}

var flagKeys = map[string]string{
	"log-level":       "log.level",
	"log-file":        "log.file",
	"source":          "source.kind",
	"elm-port":        "source.elm.port",
	"modbus-endpoint": "source.modbus.endpoint",
	"backlight-path":  "backlight.path",
	"leds-port":       "leds.port",
	"metrics":         "metrics.enabled",
	"pid-file":        "pid_file",
}

// Load reads defaults, the config file, GAUGECTL_* environment variables and
// flags, in increasing precedence, then validates the result.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := &options{
		envPrefix: DefaultEnvPrefix,
		args:      os.Args[1:],
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
		}
	}

	fs := newFlagSet()
	if err := fs.Parse(o.args); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidArgument, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	path, explicit := resolvePath(o, fs)
	if path != "" {
		if err := readFile(v, path, explicit); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePath picks the config file. Only the default path may be missing.
func resolvePath(o *options, fs *pflag.FlagSet) (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if p, _ := fs.GetString("config"); p != "" {
		return p, true
	}
	if p := os.Getenv(o.envPrefix + "_CONFIG"); p != "" {
		return p, true
	}

	return DefaultConfigPath, false
}

func readFile(v *viper.Viper, path string, explicit bool) error {
	errFactory := errors.New()

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			return nil
		}
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if err := checkKnownFields(data); err != nil {
		return err
	}

	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return errFactory.Wrap(errors.ErrReadConfig, err)
	}

	return nil
}

// checkKnownFields rejects keys that map to no field, which viper would
// silently ignore.
func checkKnownFields(data []byte) error {
	errFactory := errors.New()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var probe Config
	err := dec.Decode(&probe)
	if err == nil || err == io.EOF {
		return nil
	}

	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		for _, msg := range typeErr.Errors {
			if strings.Contains(msg, "not found in type") {
				return errFactory.WithData(errors.ErrUnknownConfig, strings.Join(typeErr.Errors, "; "))
			}
		}
	}

	return errFactory.Wrap(errors.ErrReadConfig, err)
}
