package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AetharaAI/lotus/internal/memory"
	"github.com/AetharaAI/lotus/internal/observability"
	"github.com/AetharaAI/lotus/internal/types"
)

var (
	memStoreID         string
	memStoreKind       string
	memStoreImportance float64
	memStoreSource     string
	memStoreOverride   bool
	memRetrieveLimit   int
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and modify the memory subsystem directly",
	Long: `Operate on the tiered memory store without a running runtime.
The commands open the same databases the memory module uses, so they
must not run concurrently with 'lotus run'.`,
}

var memoryStoreCmd = &cobra.Command{
	Use:   "store <content>",
	Short: "Store a memory item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := openMemory()
		if err != nil {
			return err
		}
		defer cleanup()

		var opts []memory.StoreOption
		if memStoreOverride {
			opts = append(opts, memory.WithImportanceOverride())
		}
		stored, err := mgr.Store(cmd.Context(), types.MemoryItem{
			ID:         memStoreID,
			Content:    args[0],
			Kind:       types.Kind(memStoreKind),
			Importance: memStoreImportance,
			Source:     memStoreSource,
		}, opts...)
		if err != nil {
			return err
		}

		cmd.Printf("Stored %s (tier origin: %s)\n", stored.ID, stored.TierOrigin.String())
		return nil
	},
}

var memoryRetrieveCmd = &cobra.Command{
	Use:   "retrieve <query>",
	Short: "Query memories across all tiers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := openMemory()
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := mgr.Retrieve(cmd.Context(), args[0], memRetrieveLimit)
		if err != nil {
			return err
		}

		if result.Degraded() {
			for _, tier := range result.DegradedTiers {
				cmd.PrintErrf("Warning: %s tier did not respond\n", tier.String())
			}
		}
		if len(result.Items) == 0 {
			cmd.Println("No matching memories.")
			return nil
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.Items)
	},
}

var memoryGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a memory item by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := openMemory()
		if err != nil {
			return err
		}
		defer cleanup()

		item, found, err := mgr.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no memory with id %s", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	},
}

var memoryForgetCmd = &cobra.Command{
	Use:   "forget <id>",
	Short: "Remove a memory item from every tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, cleanup, err := openMemory()
		if err != nil {
			return err
		}
		defer cleanup()

		if err := mgr.Forget(cmd.Context(), args[0]); err != nil {
			return err
		}
		cmd.Printf("Forgot %s\n", args[0])
		return nil
	},
}

// openMemory builds a manager from the resolved configuration. With tracing
// enabled the manager's operations are wrapped in spans.
func openMemory() (*memory.TracedManager, func(), error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(os.Stderr, level, cfg.Logging.Format)

	mgr, err := memory.NewManager(cfg.Memory, logger)
	if err != nil {
		return nil, nil, err
	}

	traced := memory.NewTracedManager(mgr, otel.Tracer("lotus.memory"))
	return traced, func() { _ = mgr.Close() }, nil
}

func init() {
	memoryStoreCmd.Flags().StringVar(&memStoreID, "id", "", "Explicit memory id (default: generated)")
	memoryStoreCmd.Flags().StringVar(&memStoreKind, "kind", "", "Memory kind: episodic, semantic, procedural, working")
	memoryStoreCmd.Flags().Float64Var(&memStoreImportance, "importance", 0.5, "Importance in [0,1]")
	memoryStoreCmd.Flags().StringVar(&memStoreSource, "source", "cli", "Source attribution")
	memoryStoreCmd.Flags().BoolVar(&memStoreOverride, "override-importance", false, "Allow lowering an existing item's importance")
	memoryRetrieveCmd.Flags().IntVar(&memRetrieveLimit, "limit", 0, "Maximum results (default: configured limit)")

	memoryCmd.AddCommand(memoryStoreCmd)
	memoryCmd.AddCommand(memoryRetrieveCmd)
	memoryCmd.AddCommand(memoryGetCmd)
	memoryCmd.AddCommand(memoryForgetCmd)
}
