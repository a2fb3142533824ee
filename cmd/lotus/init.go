package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AetharaAI/lotus/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the LOTUS home directory",
	Long: `Initialize the LOTUS runtime by creating:
- The home directory structure (data, modules)
- A default configuration file`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}

func runInit(cmd *cobra.Command, args []string) error {
	homeDir := flagHomeDir
	if homeDir == "" {
		homeDir = os.Getenv("LOTUS_HOME")
	}
	if homeDir == "" {
		homeDir = config.DefaultHomeDir()
	}

	cmd.Printf("Initializing LOTUS in %s...\n", homeDir)

	cfg := config.DefaultConfig()
	cfg.Core.HomeDir = homeDir
	cfg.Core.DataDir = filepath.Join(homeDir, "data")
	cfg.Core.ModulesDir = filepath.Join(homeDir, "modules")
	cfg.Memory.DataDir = cfg.Core.DataDir

	for _, dir := range []string{homeDir, cfg.Core.DataDir, cfg.Core.ModulesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	configPath := config.DefaultConfigPath(homeDir)
	if _, err := os.Stat(configPath); err == nil && !initForce {
		cmd.Printf("Config already exists at %s (use --force to overwrite)\n", configPath)
		return nil
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize default config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	cmd.Println("\nLOTUS initialized successfully!")
	cmd.Printf("  Home directory: %s\n", homeDir)
	cmd.Printf("  Config file:    %s\n", configPath)
	cmd.Printf("  Modules dir:    %s\n", cfg.Core.ModulesDir)
	return nil
}
