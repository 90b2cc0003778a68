package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pmicvib/internal/config"
	"pmicvib/internal/vibrator"
)

func newPulseCmd(configPath *string) *cobra.Command {
	var ms int
	var levelMV int
	cmd := &cobra.Command{
		Use:   "pulse",
		Short: "Vibrate once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ms <= 0 {
				return fmt.Errorf("--ms must be > 0")
			}
			return pulse(cmd.Context(), *configPath, time.Duration(ms)*time.Millisecond, levelMV)
		},
	}
	cmd.Flags().IntVar(&ms, "ms", 200, "Vibration length in milliseconds")
	cmd.Flags().IntVar(&levelMV, "level", 0, "Drive level in mV (0 keeps the configured default)")
	return cmd
}

func pulse(ctx context.Context, configPath string, d time.Duration, levelMV int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	hw, err := openHardware(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer hw.Close()

	dev, err := vibrator.New(hw.port, deviceConfig(cfg), hw.deviceOptions()...)
	if err != nil {
		return err
	}
	if levelMV > 0 {
		dev.SetLevel(levelMV)
	}
	dev.Enable(d)

	// The device turns itself off at the deadline; wait for that apply.
	wait := dev.RemainingTime()
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
	dev.Flush()

	cctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return dev.Close(cctx)
}
