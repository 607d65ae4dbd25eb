// Command tradebot is the entry point for the prediction-market trading bot. It
// loads configuration, validates it, sets up signal handling, and runs the
// live paper-trading loop or a backtest.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/iambrands/ai-ml-trading-bot/internal/app"
	"github.com/iambrands/ai-ml-trading-bot/internal/config"
)

const defaultConfigPath = "config.toml"

var (
	configPath string
	runsLimit  int

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tradebot",
	Short: "ML-driven prediction market trading bot",
	Long: `tradebot predicts prediction-market outcomes with an ensemble of models,
turns the edge into Kelly-sized paper trades behind risk limits and a circuit
breaker, and replays resolved markets to backtest the same pipeline.

Without a subcommand the mode named in the config file is run.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), cfg.Mode)
	},
}

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live paper-trading loop and HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), "live")
	},
}

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay resolved markets over the configured window",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd.Context(), "backtest")
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded backtest runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.New(cfg, logger, app.WithOutput(cmd.OutOrStdout()))
		defer a.Close()
		return a.ListRuns(cmd.Context(), runsLimit)
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the archived report of a backtest run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := app.New(cfg, logger, app.WithOutput(cmd.OutOrStdout()))
		defer a.Close()
		return a.ShowRun(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to TOML configuration file")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum number of runs to list")

	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(liveCmd, backtestCmd, runsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and sets up the JSON logger at the
// configured level. A missing default config file falls back to defaults plus
// environment overrides; an explicit --config must exist.
func loadConfig(cmd *cobra.Command, args []string) error {
	path := configPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	var err error
	cfg, err = config.Load(path)
	if err != nil {
		return err
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runMode(ctx context.Context, mode string) error {
	cfg.Mode = mode
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("tradebot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("tradebot stopped")
	return nil
}
