package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/memory"
	"github.com/AetharaAI/lotus/internal/module"
	"github.com/AetharaAI/lotus/internal/observability"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the LOTUS runtime",
	Long: `Start the runtime: boot all modules in dependency order, then
serve until interrupted or halted by a critical module failure.

The built-in memory module is always registered. Additional module
manifests are discovered in the modules directory; manifests without a
registered factory are skipped with a warning.`,
	RunE: runRuntime,
}

func runRuntime(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if verbose || cfg.Core.Debug {
		level = "debug"
	}
	logger := observability.NewLogger(os.Stderr, level, cfg.Logging.Format)

	tp, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownTracing(shutdownCtx, tp); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	// The bus needs its error function at construction, but the function
	// belongs to the supervisor built after the bus. The indirection
	// resolves the cycle.
	var handlerErrFn bus.ErrorFunc
	eventBus := bus.NewEventBus(
		bus.WithLogger(logger),
		bus.WithErrorFunc(func(sub *bus.Subscription, env bus.Envelope, err error) {
			if handlerErrFn != nil {
				handlerErrFn(sub, env, err)
			}
		}),
	)
	defer eventBus.Close()

	factories := map[string]module.Factory{
		memory.ModuleName: memory.NewFactory(cfg.Memory),
	}

	sup := module.NewSupervisor(eventBus, factories, cfg.Supervisor, logger)
	handlerErrFn = sup.HandlerErrorFunc()

	descs := []*module.Descriptor{memoryDescriptor()}
	descs = append(descs, discoverModules(cfg.Core.ModulesDir, factories, logger)...)

	logger.Info("starting lotus runtime",
		"home", cfg.Core.HomeDir,
		"modules", len(descs))

	if err := sup.Start(ctx, descs); err != nil {
		return err
	}

	for _, snap := range sup.Snapshots() {
		logger.Info("module ready",
			"module", snap.Name,
			"state", string(snap.State),
			"priority", snap.Priority.String())
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down on signal")
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sup.Stop(stopCtx)
	case err := <-sup.Wait():
		logger.Error("runtime halted", "error", err)
		return err
	}
}

// memoryDescriptor is the built-in memory module's manifest, declared in
// code because the module ships with the runtime.
func memoryDescriptor() *module.Descriptor {
	return &module.Descriptor{
		Name:     memory.ModuleName,
		Type:     module.TypeCore,
		Priority: module.PriorityCritical,
		Subscriptions: []module.SubscriptionSpec{
			{Pattern: "memory.store", Handler: "on_store"},
			{Pattern: "memory.retrieve.request", Handler: "on_retrieve"},
			{Pattern: "memory.forget", Handler: "on_forget"},
		},
		Publications: []string{
			"memory.store.ack.*",
			"memory.retrieve.response.*",
		},
	}
}

// discoverModules loads manifests from the modules directory, keeping only
// those with a registered factory.
func discoverModules(dir string, factories map[string]module.Factory, logger *slog.Logger) []*module.Descriptor {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	descs, failed, err := module.DiscoverDescriptors(dir)
	if err != nil {
		logger.Warn("module discovery failed", "dir", dir, "error", err)
		return nil
	}
	for name, ferr := range failed {
		logger.Warn("skipping module with invalid manifest", "module", name, "error", ferr)
	}

	var usable []*module.Descriptor
	for _, desc := range descs {
		if _, ok := factories[desc.Name]; !ok {
			logger.Warn("skipping module without a registered factory", "module", desc.Name)
			continue
		}
		usable = append(usable, desc)
	}
	return usable
}
