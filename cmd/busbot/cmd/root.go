package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"busbot/internal/config"
	"busbot/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "busbot",
	Short:        "Messenger bot relaying real-time bus arrivals",
	Long:         "busbot answers Messenger users with the next arrival of each route at the bus stop they name.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(arrivalsCmd)
	rootCmd.AddCommand(deliveryCmd)
}

// loadRuntime reads the full configuration and installs the process logger.
func loadRuntime() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	slog.SetDefault(log)
	return cfg, log, nil
}
