package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newRootCmd is the base command for the swingctl CLI.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "swingctl",
		Short: "Offline tools for the SwingPull structure engine",
		Long: `swingctl replays bar files through the structure engine and checks
configuration files without starting the service.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "config/config.yaml", "Path to config file")
	root.PersistentFlags().String("env", ".env", "Optional dotenv file")

	root.AddCommand(newReplayCmd(), newCheckConfigCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
