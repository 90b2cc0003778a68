package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const defaultConfigPath = "/etc/pmicvib/pmicvib.yaml"

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "pmicvib",
		Short:         "PMIC haptic vibrator daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addConfigFlag(root.PersistentFlags(), &configPath)

	root.AddCommand(
		newRunCmd(&configPath),
		newPulseCmd(&configPath),
		newReadRegCmd(&configPath),
	)
	return root
}

func addConfigFlag(fs *pflag.FlagSet, p *string) {
	fs.StringVarP(p, "config", "c", defaultConfigPath, "Path to YAML config")
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pmicvib:", err)
		os.Exit(1)
	}
}
