package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AetharaAI/lotus/internal/config"
	"github.com/AetharaAI/lotus/pkg/version"
)

var (
	flagHomeDir    string
	flagConfigFile string
	verbose        bool
)

var rootCmd = &cobra.Command{
	Use:   "lotus",
	Short: "LOTUS - Long-running agent runtime",
	Long: `LOTUS is a module orchestration kernel with a tiered memory
subsystem for long-running agents. Modules declare their dependencies
and subscriptions in manifests; the supervisor boots them in order,
watches their health, and keeps the system alive when a non-critical
module fails.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with signal handling.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return rootCmd.ExecuteContext(ctx)
}

// resolveConfig loads configuration, honoring --home, --config, and
// LOTUS_HOME, and falling back to defaults when no config file exists.
func resolveConfig() (*config.Config, error) {
	homeDir := flagHomeDir
	if homeDir == "" {
		homeDir = os.Getenv("LOTUS_HOME")
	}
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}

	configFile := flagConfigFile
	if configFile == "" {
		configFile = config.DefaultConfigPath(homeDir)
	}

	loader := config.NewConfigLoader(config.NewValidator())
	cfg, err := loader.LoadWithDefaults(configFile)
	if err != nil {
		return nil, err
	}
	if flagHomeDir != "" {
		cfg.Core.HomeDir = flagHomeDir
		cfg.Core.DataDir = ""
		cfg.Core.ModulesDir = ""
		cfg.Memory.DataDir = ""
		cfg.ApplyDefaults()
	}
	return cfg, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version.String())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHomeDir, "home", "", "LOTUS home directory (default: ~/.lotus)")
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "Config file path (default: <home>/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(versionCmd)
}
