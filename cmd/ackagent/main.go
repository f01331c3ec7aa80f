package main

// Package main is the entry point of the ack-agent CLI.
//
// Commands:
//   - serve:       run the REST API and progress stream server
//   - investigate: investigate one incident and print the report
//   - history:     list past incidents and mined insights for a service
//   - report:      print the stored report, findings or artifacts of an incident
//   - version:     print build information
//
// Every command reads the same YAML config (--config, ACKAGENT_CONFIG) with
// ACKAGENT_* environment overrides.

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moosh3/ack-agent/internal/app"
	"github.com/moosh3/ack-agent/internal/config"
)

// Set at build time via -ldflags.
var (
	version = "dev"
	commit  = "none"
)

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "ackagent",
	Short: "Incident investigation and root-cause synthesis",
	Long: "ackagent investigates production incidents across infrastructure, logs, code and\n" +
		"metrics, ranks likely root causes and learns from past incidents of the same service.",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	defaultConfig := os.Getenv("ACKAGENT_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "config/ack-agent.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&rootFlags.configPath, "config", "c", defaultConfig, "path to the YAML config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config file.
func loadConfig(ctx context.Context) (config.ConfigManager, error) {
	mgr, err := config.NewConfigManager(rootFlags.configPath)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, err
	}
	return mgr, nil
}

// openApp loads the config and wires every component.
func openApp(ctx context.Context) (*app.App, config.ConfigManager, error) {
	mgr, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, mgr.Get(ctx))
	if err != nil {
		return nil, nil, err
	}
	return a, mgr, nil
}
