package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
	"tinygo.org/x/drivers"

	"pmicvib/internal/board"
	"pmicvib/internal/config"
	"pmicvib/internal/i2c"
	"pmicvib/internal/pmic"
	"pmicvib/internal/vibrator"
)

type bus interface {
	drivers.I2C
	Close() error
}

var (
	openBusFn = func(path string) (bus, error) { return i2c.Open(path) }

	openPowerFn = func(line string) (powerGate, error) { return board.NewPowerGate(line) }
	openAuxFn   = func(line string, cfg config.AuxConfig, log *zap.Logger) (auxLine, error) {
		return board.NewAuxLine(line, cfg.MinDuration, log)
	}
)

type powerGate interface {
	vibrator.PowerState
	Close() error
}

type auxLine interface {
	vibrator.AuxHook
	Close() error
}

// hardware is the set of collaborators opened from the config. power and aux
// are nil when their GPIO line is not configured.
type hardware struct {
	bus   bus
	port  *pmic.Port
	power powerGate
	aux   auxLine
}

func openHardware(cfg config.Config, log *zap.Logger) (*hardware, error) {
	b, err := openBusFn(cfg.PMIC.I2CPath())
	if err != nil {
		return nil, fmt.Errorf("open i2c bus: %w", err)
	}
	hw := &hardware{bus: b}

	var portOpts []pmic.PortOption
	if cfg.PMIC.WideRegister {
		portOpts = append(portOpts, pmic.WithWideAddress())
	}
	hw.port, err = pmic.NewPort(b, cfg.PMIC.Addr, portOpts...)
	if err != nil {
		_ = hw.Close()
		return nil, err
	}

	if cfg.Power.GPIOLine != "" {
		hw.power, err = openPowerFn(cfg.Power.GPIOLine)
		if err != nil {
			_ = hw.Close()
			return nil, fmt.Errorf("open power gate: %w", err)
		}
	}
	if cfg.Aux.GPIOLine != "" {
		hw.aux, err = openAuxFn(cfg.Aux.GPIOLine, cfg.Aux, log)
		if err != nil {
			_ = hw.Close()
			return nil, fmt.Errorf("open aux line: %w", err)
		}
	}
	return hw, nil
}

func (hw *hardware) deviceOptions() []vibrator.Option {
	var opts []vibrator.Option
	if hw.power != nil {
		opts = append(opts, vibrator.WithPower(hw.power))
	}
	if hw.aux != nil {
		opts = append(opts, vibrator.WithAuxHook(hw.aux))
	}
	return opts
}

// Close releases the GPIO lines and the bus. Call it after the device is
// closed so the final off-apply still has its collaborators.
func (hw *hardware) Close() error {
	var errs []error
	if hw.aux != nil {
		errs = append(errs, hw.aux.Close())
	}
	if hw.power != nil {
		errs = append(errs, hw.power.Close())
	}
	if hw.bus != nil {
		errs = append(errs, hw.bus.Close())
	}
	return errors.Join(errs...)
}

func deviceConfig(cfg config.Config) vibrator.Config {
	return vibrator.Config{
		DefaultLevelMV: cfg.Vibrator.DefaultLevelMV,
		MaxTimeout:     cfg.Vibrator.MaxTimeout,
		Register:       cfg.PMIC.Register,
	}
}
