package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	drepo "SwingPull/internal/domain/repository"
	"SwingPull/internal/usecase"
	"SwingPull/pkg/config"
	"SwingPull/pkg/metrics"
)

func newReplayCmd() *cobra.Command {
	var (
		file   string
		symbol string
		tf     string
		every  int
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a CSV of bars through the structure engine",
		Long: `Replay feeds bars from a CSV file (time,open,high,low,close[,volume]) through
a fresh engine and prints the final structure snapshot as JSON.

Examples:
  swingctl replay --file aapl_1m.csv --symbol AAPL
  swingctl replay --file aapl_5m.csv --symbol AAPL --tf 5m --every 12`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := loadEngineConfig(path)
			if err != nil {
				return err
			}
			return runReplay(cmd, cfg, file, symbol, string(drepo.NormalizeTimeframe(tf)), every)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file of bars (- for stdin)")
	cmd.Flags().StringVar(&symbol, "symbol", "REPLAY", "Symbol to label the bars with")
	cmd.Flags().StringVar(&tf, "tf", "1m", "Bar timeframe")
	cmd.Flags().IntVar(&every, "every", 0, "Print a snapshot every N bars as JSON lines (0: final snapshot only)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// loadEngineConfig reads only what the engine needs; service sections are not
// validated so a config without feed credentials still works offline.
func loadEngineConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, err
		}
	}
	cfg.Finnhub.Enabled = false
	cfg.Ingest.Backend = "direct"
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runReplay(cmd *cobra.Command, cfg *config.Config, file, symbol, tf string, every int) error {
	in := cmd.InOrStdin()
	if file != "-" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	bars, err := readBars(in, symbol, tf)
	if err != nil {
		return fmt.Errorf("read %s: %w", file, err)
	}

	tracker, err := usecase.NewStructureTracker(usecase.SessionConfig{
		Engine:           cfg.Structure.Engine,
		FastPeriod:       cfg.Structure.FastPeriod,
		SlowPeriod:       cfg.Structure.SlowPeriod,
		ATRPeriod:        cfg.Structure.ATRPeriod,
		ATRAveragePeriod: cfg.Structure.ATRAveragePeriod,
		PivotStrength:    cfg.Structure.PivotStrength,
	}, metrics.NewWithRegistry(prometheus.NewRegistry()))
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := json.NewEncoder(cmd.OutOrStdout())
	if every < 0 {
		return fmt.Errorf("--every must be >= 0, got %d", every)
	}
	if every == 0 {
		out.SetIndent("", "  ")
		snap, err := tracker.Replay(ctx, symbol, tf, bars)
		if err != nil {
			return err
		}
		return out.Encode(snap)
	}
	for i, b := range bars {
		snap, err := tracker.Process(ctx, b)
		if err != nil {
			return fmt.Errorf("bar %d: %w", i, err)
		}
		if (i+1)%every != 0 && i != len(bars)-1 {
			continue
		}
		if err := out.Encode(snap); err != nil {
			return err
		}
	}
	return nil
}
