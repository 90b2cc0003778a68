package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Vibrator VibratorConfig `yaml:"vibrator"`
	PMIC     PMICConfig     `yaml:"pmic"`
	Power    PowerConfig    `yaml:"power"`
	Aux      AuxConfig      `yaml:"aux"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

type VibratorConfig struct {
	DefaultLevelMV int           `yaml:"default_level_mv"`
	MaxTimeout     time.Duration `yaml:"max_timeout"`
}

type PMICConfig struct {
	// I2CBus is the /dev/i2c-N index.
	I2CBus int `yaml:"i2c_bus"`
	// I2CDevice overrides I2CBus with an explicit device path.
	I2CDevice string `yaml:"i2c_device"`
	Addr      uint16 `yaml:"addr"`
	Register  uint16 `yaml:"register"`
	// WideRegister sends 16-bit register addresses.
	WideRegister bool `yaml:"wide_register"`
}

type PowerConfig struct {
	GPIOLine string `yaml:"gpio_line"`
}

type AuxConfig struct {
	GPIOLine    string        `yaml:"gpio_line"`
	MinDuration time.Duration `yaml:"min_duration"`
}

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	// Journal also sends entries to the systemd journal when it is reachable.
	Journal bool          `yaml:"journal"`
	File    LogFileConfig `yaml:"file"`
}

type LogFileConfig struct {
	Path       string `yaml:"path"`
	Filename   string `yaml:"filename"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

const (
	minLevelMV = 1200
	maxLevelMV = 3100
)

// Default returns the configuration used when a key is absent.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && allUnknownFields(te.Errors) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// allUnknownFields reports whether every decode error came from a key the
// schema does not have, rather than a value of the wrong type.
func allUnknownFields(errs []string) bool {
	if len(errs) == 0 {
		return false
	}
	for _, e := range errs {
		if !strings.Contains(e, "not found in type") {
			return false
		}
	}
	return true
}

func applyDefaults(cfg *Config) {
	if cfg.Vibrator.DefaultLevelMV == 0 {
		cfg.Vibrator.DefaultLevelMV = maxLevelMV
	}
	if cfg.Vibrator.MaxTimeout == 0 {
		cfg.Vibrator.MaxTimeout = 15 * time.Second
	}
	if cfg.PMIC.Addr == 0 {
		cfg.PMIC.Addr = 0x48
	}
	if cfg.PMIC.Register == 0 {
		cfg.PMIC.Register = 0x4A
	}
	if cfg.Aux.MinDuration == 0 {
		cfg.Aux.MinDuration = 500 * time.Millisecond
	}
	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = "127.0.0.1:8087"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.File.Path == "" {
		cfg.Log.File.Path = "./logs"
	}
	if cfg.Log.File.Filename == "" {
		cfg.Log.File.Filename = "pmicvib.log"
	}
	if cfg.Log.File.MaxSizeMB <= 0 {
		cfg.Log.File.MaxSizeMB = 10
	}
	if cfg.Log.File.MaxBackups <= 0 {
		cfg.Log.File.MaxBackups = 3
	}
	if cfg.Log.File.MaxAgeDays <= 0 {
		cfg.Log.File.MaxAgeDays = 7
	}
}

func (cfg Config) Validate() error {
	if mv := cfg.Vibrator.DefaultLevelMV; mv < minLevelMV || mv > maxLevelMV {
		return fmt.Errorf("vibrator.default_level_mv must be in [%d, %d], got %d", minLevelMV, maxLevelMV, mv)
	}
	if cfg.Vibrator.MaxTimeout < 0 {
		return fmt.Errorf("vibrator.max_timeout must be > 0")
	}
	if cfg.PMIC.I2CBus < 0 {
		return fmt.Errorf("pmic.i2c_bus must be >= 0")
	}
	if cfg.PMIC.Addr > 0x7F {
		return fmt.Errorf("pmic.addr must be a 7-bit address, got 0x%X", cfg.PMIC.Addr)
	}
	if !cfg.PMIC.WideRegister && cfg.PMIC.Register > 0xFF {
		return fmt.Errorf("pmic.register 0x%X needs pmic.wide_register", cfg.PMIC.Register)
	}
	if cfg.Aux.MinDuration < 0 {
		return fmt.Errorf("aux.min_duration must be >= 0")
	}
	if cfg.Power.GPIOLine != "" && cfg.Power.GPIOLine == cfg.Aux.GPIOLine {
		return fmt.Errorf("power.gpio_line and aux.gpio_line cannot be the same line")
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be 'console' or 'json'")
	}
	switch cfg.Log.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("log.output must be 'stdout', 'file' or 'both'")
	}
	return nil
}

// I2CPath returns the bus device path the PMIC lives on.
func (c PMICConfig) I2CPath() string {
	if c.I2CDevice != "" {
		return c.I2CDevice
	}
	return fmt.Sprintf("/dev/i2c-%d", c.I2CBus)
}
