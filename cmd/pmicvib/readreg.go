package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"pmicvib/internal/config"
	"pmicvib/internal/vibrator"
)

func newReadRegCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "read-reg",
		Short: "Print the vibrator control register",
		RunE: func(cmd *cobra.Command, args []string) error {
			return readReg(cmd.OutOrStdout(), *configPath)
		},
	}
}

func readReg(w io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	hw, err := openHardware(cfg, zap.NewNop())
	if err != nil {
		return err
	}
	defer hw.Close()

	v, err := hw.port.ReadRegister(cfg.PMIC.Register)
	if err != nil {
		return err
	}
	level, on := vibrator.DecodeRegister(v)
	_, err = fmt.Fprintf(w, "reg 0x%02X = 0x%02X drive_on=%t level_mv=%d ctrl=0x%X\n",
		cfg.PMIC.Register, v, on, level.Millivolts(), v&^0xF8)
	return err
}
