package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"SwingPull/pkg/config"
)

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate the service configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			envFile, _ := cmd.Flags().GetString("env")
			cfg, err := config.LoadWithEnv(path, envFile)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "config ok: %s\n", path)
			fmt.Fprintf(w, "  env=%s backend=%s tf=%s\n", cfg.Environment, cfg.Ingest.Backend, cfg.Ingest.Timeframe)
			fmt.Fprintf(w, "  symbols=%v kafka=%v clickhouse=%v redis=%v\n",
				cfg.Finnhub.Symbols, cfg.UsesKafka(), cfg.ClickHouse.Enabled, cfg.Redis.Enabled)
			fmt.Fprintf(w, "  pivot_strength=%d fast=%d slow=%d atr=%d/%d\n",
				cfg.Structure.PivotStrength, cfg.Structure.FastPeriod, cfg.Structure.SlowPeriod,
				cfg.Structure.ATRPeriod, cfg.Structure.ATRAveragePeriod)
			return nil
		},
	}
}
