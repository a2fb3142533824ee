package module

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/types"
)

// Module is an independently loadable unit of behavior. Modules never hold
// references to each other; their only contract with the rest of the system
// is the event bus handed to Initialize via the Runtime.
type Module interface {
	// Name returns the module's unique name, matching its descriptor.
	Name() string

	// Initialize prepares the module for event handling. The supervisor
	// guarantees every declared dependency has completed Initialize before
	// this is called, and wires the declared subscriptions only after it
	// returns nil.
	Initialize(ctx context.Context, rt *Runtime) error

	// Shutdown releases the module's resources. Called on unload, reload,
	// and system stop, after the module's subscriptions are removed.
	Shutdown(ctx context.Context) error

	// Health is the module's lightweight liveness probe.
	Health(ctx context.Context) types.HealthStatus

	// Handler resolves a handler name declared in the manifest to the
	// function the bus should invoke. Returning nil fails the wiring step.
	Handler(name string) bus.Handler
}

// Factory constructs a module instance from its descriptor. The supervisor
// looks factories up by module name at load time, so adding a capability is
// registering a factory plus dropping a manifest in the modules directory.
type Factory func(desc *Descriptor) (Module, error)

// Runtime is what a module gets to see of the kernel.
type Runtime struct {
	Bus    bus.EventBus
	Logger *slog.Logger
}

// State is a module's lifecycle state as tracked by the supervisor.
type State string

const (
	// StateDiscovered means the manifest was read but Initialize has not run.
	StateDiscovered State = "discovered"

	// StateInitializing means Initialize is in flight.
	StateInitializing State = "initializing"

	// StateActive means the module is initialized and its subscriptions are
	// wired.
	StateActive State = "active"

	// StateFailed means Initialize threw or a health probe failed; the
	// supervisor is deciding between restart and quarantine.
	StateFailed State = "failed"

	// StateQuarantined means a non-critical module failed and was
	// unsubscribed; the system continues without it.
	StateQuarantined State = "quarantined"

	// StateStopped means the module was shut down deliberately.
	StateStopped State = "stopped"
)

// String returns the string representation of the State.
func (s State) String() string {
	return string(s)
}

// Snapshot is a read-only copy of one module's supervised state. All
// introspection goes through snapshots; nothing outside the supervisor's
// actor loop ever sees its mutable registry.
type Snapshot struct {
	Name          string
	Type          ModuleType
	Priority      Priority
	State         State
	HotReloadable bool
	Dependencies  []string
	HandlerErrors int64
	RestartCount  int
	LastHealth    types.HealthStatus
	LoadedAt      time.Time
}

// FuncModule is a Module assembled from plain functions, for modules whose
// behavior lives elsewhere (and for tests). Zero-value hooks are no-ops and
// a healthy probe.
type FuncModule struct {
	ModuleName   string
	InitializeFn func(ctx context.Context, rt *Runtime) error
	ShutdownFn   func(ctx context.Context) error
	HealthFn     func(ctx context.Context) types.HealthStatus
	Handlers     map[string]bus.Handler
}

// Name returns the module name.
func (m *FuncModule) Name() string { return m.ModuleName }

// Initialize runs the configured init hook, if any.
func (m *FuncModule) Initialize(ctx context.Context, rt *Runtime) error {
	if m.InitializeFn != nil {
		return m.InitializeFn(ctx, rt)
	}
	return nil
}

// Shutdown runs the configured shutdown hook, if any.
func (m *FuncModule) Shutdown(ctx context.Context) error {
	if m.ShutdownFn != nil {
		return m.ShutdownFn(ctx)
	}
	return nil
}

// Health runs the configured probe, defaulting to healthy.
func (m *FuncModule) Health(ctx context.Context) types.HealthStatus {
	if m.HealthFn != nil {
		return m.HealthFn(ctx)
	}
	return types.Healthy(fmt.Sprintf("module %s healthy", m.ModuleName))
}

// Handler resolves a declared handler name.
func (m *FuncModule) Handler(name string) bus.Handler {
	return m.Handlers[name]
}
