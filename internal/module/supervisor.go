package module

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/types"
)

// SupervisorConfig holds the supervisor's tunables. Zero values are filled
// by ApplyDefaults.
type SupervisorConfig struct {
	// HealthInterval is how often active modules are probed.
	HealthInterval time.Duration `mapstructure:"health_interval" yaml:"health_interval"`

	// InitTimeout bounds a single module's Initialize call.
	InitTimeout time.Duration `mapstructure:"init_timeout" yaml:"init_timeout"`

	// ShutdownTimeout bounds a single module's Shutdown call.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	// RestartMaxAttempts is the restart budget for a failing critical
	// module before the whole system halts.
	RestartMaxAttempts int `mapstructure:"restart_max_attempts" yaml:"restart_max_attempts"`

	// RestartBackoffBase is the first restart delay; each attempt doubles it.
	RestartBackoffBase time.Duration `mapstructure:"restart_backoff_base" yaml:"restart_backoff_base"`
}

// ApplyDefaults applies default values to unset fields.
func (c *SupervisorConfig) ApplyDefaults() {
	if c.HealthInterval == 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.RestartMaxAttempts == 0 {
		c.RestartMaxAttempts = 3
	}
	if c.RestartBackoffBase == 0 {
		c.RestartBackoffBase = time.Second
	}
}

// Validate rejects settings ApplyDefaults cannot repair.
func (c *SupervisorConfig) Validate() error {
	if c.HealthInterval < 0 || c.InitTimeout < 0 || c.ShutdownTimeout < 0 || c.RestartBackoffBase < 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"supervisor durations must not be negative")
	}
	if c.RestartMaxAttempts < 0 {
		return types.NewError(types.CONFIG_VALIDATION_FAILED,
			"supervisor restart_max_attempts must not be negative")
	}
	return nil
}

// entry is the supervisor's mutable record for one module. Entries are owned
// by the actor loop; everything outside reads copied Snapshots only.
type entry struct {
	desc          *Descriptor
	mod           Module
	state         State
	subs          []*bus.Subscription
	handlerErrors int64
	restartCount  int
	lastHealth    types.HealthStatus
	loadedAt      time.Time
}

func (e *entry) snapshot() Snapshot {
	deps := make([]string, len(e.desc.Dependencies.Modules))
	copy(deps, e.desc.Dependencies.Modules)
	return Snapshot{
		Name:          e.desc.Name,
		Type:          e.desc.Type,
		Priority:      e.desc.Priority,
		State:         e.state,
		HotReloadable: e.desc.HotReloadable,
		Dependencies:  deps,
		HandlerErrors: e.handlerErrors,
		RestartCount:  e.restartCount,
		LastHealth:    e.lastHealth,
		LoadedAt:      e.loadedAt,
	}
}

// Supervisor instantiates modules in dependency order, wires their declared
// subscriptions to the event bus, monitors health, restarts or quarantines
// failing modules, and supports load/unload/reload at runtime.
//
// The module registry is the kernel's one piece of global mutable state, so
// every mutation flows through a single serialized command queue (the actor
// loop); concurrent callers only ever observe copied snapshots.
type Supervisor struct {
	bus       bus.EventBus
	factories map[string]Factory
	cfg       SupervisorConfig
	logger    *slog.Logger

	entries map[string]*entry // actor-owned after Start

	cmds    chan func()
	handler chan string // owner names of failed handlers, drained by the actor
	haltCh  chan error
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	halted  bool // actor-owned, guards stopCh against a double close
}

// NewSupervisor creates a Supervisor over the given bus and module factories.
func NewSupervisor(eventBus bus.EventBus, factories map[string]Factory, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		bus:       eventBus,
		factories: factories,
		cfg:       cfg,
		logger:    logger,
		entries:   make(map[string]*entry),
		cmds:      make(chan func()),
		handler:   make(chan string, 1024),
		haltCh:    make(chan error, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// HandlerErrorFunc returns the bus error callback that feeds handler
// failures into the owning module's health accounting. Wire it into the bus
// before Start.
func (s *Supervisor) HandlerErrorFunc() bus.ErrorFunc {
	return func(sub *bus.Subscription, env bus.Envelope, err error) {
		s.logger.Warn("module handler failed",
			"module", sub.Owner(),
			"topic", env.Topic,
			"error", err)
		select {
		case s.handler <- sub.Owner():
		default:
			// Bookkeeping is best-effort; never block the dispatch loop.
		}
	}
}

// Start boots all modules in dependency order. A cycle, a duplicate name, or
// an unknown dependency fails boot before any module is instantiated. A
// critical module that cannot initialize within its restart budget also
// fails boot; non-critical failures quarantine the module and boot
// continues.
//
// Once Start returns nil the actor loop and health monitor are running and
// event handling across modules is fully concurrent.
func (s *Supervisor) Start(ctx context.Context, descs []*Descriptor) error {
	if s.started {
		return types.NewError(types.SUPERVISOR_HALTED, "supervisor already started")
	}

	order, err := BuildLoadOrder(descs)
	if err != nil {
		return err
	}

	byName := make(map[string]*Descriptor, len(descs))
	for _, d := range descs {
		byName[d.Name] = d
	}

	// Boot is strictly sequential: a dependency is guaranteed ready before
	// any dependent starts handling events.
	for _, name := range order {
		desc := byName[name]
		e, err := s.load(ctx, desc)
		if err != nil {
			if desc.Priority == PriorityCritical {
				s.shutdownAll(ctx)
				return types.WrapError(types.MODULE_INIT_FAILED,
					fmt.Sprintf("critical module %q failed to initialize", name), err)
			}
			s.logger.Warn("module quarantined, system continues without it",
				"module", name, "error", err)
			s.entries[name] = &entry{
				desc:       desc,
				state:      StateQuarantined,
				lastHealth: types.Unhealthyf("initialization failed: %v", err),
				loadedAt:   time.Now(),
			}
			continue
		}
		s.entries[name] = e
	}

	s.started = true
	go s.loop()
	go s.healthLoop()
	return nil
}

// load instantiates one module, initializes it (with bounded retries for
// critical modules), and wires its subscriptions.
func (s *Supervisor) load(ctx context.Context, desc *Descriptor) (*entry, error) {
	factory, ok := s.factories[desc.Name]
	if !ok {
		return nil, types.NewError(types.MODULE_NOT_FOUND,
			fmt.Sprintf("no factory registered for module %q", desc.Name))
	}

	attempts := 1
	if desc.Priority == PriorityCritical {
		attempts = s.cfg.RestartMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.RestartBackoffBase << (attempt - 1)
			s.logger.Info("retrying module initialization",
				"module", desc.Name, "attempt", attempt+1, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		e, err := s.tryLoad(ctx, desc, factory)
		if err == nil {
			return e, nil
		}
		lastErr = err
		s.logger.Error("module initialization failed",
			"module", desc.Name, "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// tryLoad performs a single instantiate + initialize + wire pass.
func (s *Supervisor) tryLoad(ctx context.Context, desc *Descriptor, factory Factory) (*entry, error) {
	mod, err := factory(desc)
	if err != nil {
		return nil, types.WrapError(types.MODULE_INIT_FAILED,
			fmt.Sprintf("factory for module %q failed", desc.Name), err)
	}

	initCtx, cancel := context.WithTimeout(ctx, s.cfg.InitTimeout)
	defer cancel()

	rt := &Runtime{Bus: s.bus, Logger: s.logger.With("module", desc.Name)}
	if err := initModule(initCtx, mod, rt); err != nil {
		return nil, types.WrapError(types.MODULE_INIT_FAILED,
			fmt.Sprintf("module %q Initialize returned an error", desc.Name), err)
	}

	e := &entry{
		desc:       desc,
		mod:        mod,
		state:      StateActive,
		lastHealth: types.Healthy("initialized"),
		loadedAt:   time.Now(),
	}

	for _, spec := range desc.Subscriptions {
		h := mod.Handler(spec.Handler)
		if h == nil {
			s.unwire(e)
			shutdownModule(ctx, mod, s.cfg.ShutdownTimeout)
			return nil, types.NewError(types.MODULE_INIT_FAILED,
				fmt.Sprintf("module %q declares unknown handler %q", desc.Name, spec.Handler))
		}
		sub, err := s.bus.Subscribe(spec.Pattern, desc.Name, h)
		if err != nil {
			s.unwire(e)
			shutdownModule(ctx, mod, s.cfg.ShutdownTimeout)
			return nil, types.WrapError(types.MODULE_INIT_FAILED,
				fmt.Sprintf("failed to subscribe module %q to %q", desc.Name, spec.Pattern), err)
		}
		e.subs = append(e.subs, sub)
	}

	s.logger.Info("module active",
		"module", desc.Name, "priority", desc.Priority.String(), "subscriptions", len(e.subs))
	return e, nil
}

// initModule runs Initialize with panic isolation: a panicking module is a
// failed module, never a crashed kernel.
func initModule(ctx context.Context, mod Module, rt *Runtime) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.MODULE_INIT_FAILED, fmt.Sprintf("Initialize panicked: %v", r))
		}
	}()
	return mod.Initialize(ctx, rt)
}

// shutdownModule runs Shutdown with its own timeout and panic isolation.
func shutdownModule(ctx context.Context, mod Module, timeout time.Duration) {
	defer func() { _ = recover() }()
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_ = mod.Shutdown(sctx)
}

// unwire removes a module's bus subscriptions.
func (s *Supervisor) unwire(e *entry) {
	for _, sub := range e.subs {
		s.bus.Unsubscribe(sub)
	}
	e.subs = nil
}

// loop is the actor goroutine: the only code that mutates the registry after
// boot.
func (s *Supervisor) loop() {
	defer close(s.doneCh)
	for {
		select {
		case cmd := <-s.cmds:
			cmd()
		case owner := <-s.handler:
			if e, ok := s.entries[owner]; ok {
				e.handlerErrors++
			}
		case <-s.stopCh:
			return
		}
	}
}

// do runs fn on the actor loop and waits for it to complete.
func (s *Supervisor) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func() { fn(); close(done) }:
		<-done
		return nil
	case <-s.stopCh:
		return types.NewError(types.SUPERVISOR_HALTED, "supervisor is stopped")
	}
}

// healthLoop polls active modules' probes on the configured interval. Probes
// run off the actor loop against captured module references; results are
// applied back on the loop.
func (s *Supervisor) healthLoop() {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkHealth()
		case <-s.stopCh:
			return
		}
	}
}

// checkHealth probes every active module once and applies failure policy.
func (s *Supervisor) checkHealth() {
	type probe struct {
		name string
		mod  Module
	}
	var probes []probe
	if err := s.do(func() {
		for name, e := range s.entries {
			if e.state == StateActive {
				probes = append(probes, probe{name: name, mod: e.mod})
			}
		}
	}); err != nil {
		return
	}

	ctx := context.Background()
	for _, p := range probes {
		status := probeHealth(ctx, p.mod)
		name := p.name
		_ = s.do(func() {
			e, ok := s.entries[name]
			if !ok || e.state != StateActive {
				return
			}
			e.lastHealth = status
			if !status.IsUnhealthy() {
				return
			}
			s.failLocked(ctx, e, fmt.Errorf("health probe failed: %s", status.Message))
		})
	}
}

// probeHealth runs a module's probe with panic isolation.
func probeHealth(ctx context.Context, mod Module) (status types.HealthStatus) {
	defer func() {
		if r := recover(); r != nil {
			status = types.Unhealthyf("health probe panicked: %v", r)
		}
	}()
	return mod.Health(ctx)
}

// failLocked transitions a module to failed and applies the priority-based
// policy: critical modules get a restart with exponential backoff until the
// budget is exhausted (then the system halts); everything else is
// quarantined and the system continues. Must run on the actor loop.
func (s *Supervisor) failLocked(ctx context.Context, e *entry, cause error) {
	e.state = StateFailed
	s.unwire(e)
	if e.mod != nil {
		shutdownModule(ctx, e.mod, s.cfg.ShutdownTimeout)
		e.mod = nil
	}

	if e.desc.Priority != PriorityCritical {
		e.state = StateQuarantined
		s.logger.Warn("module quarantined, system continues without it",
			"module", e.desc.Name, "cause", cause)
		return
	}

	if e.restartCount >= s.cfg.RestartMaxAttempts {
		s.logger.Error("critical module exhausted its restart budget, halting system",
			"module", e.desc.Name, "attempts", e.restartCount)
		s.haltLocked(types.WrapError(types.SUPERVISOR_HALTED,
			fmt.Sprintf("critical module %q could not be restarted after %d attempts",
				e.desc.Name, e.restartCount), cause))
		return
	}

	e.restartCount++
	backoff := s.cfg.RestartBackoffBase << (e.restartCount - 1)
	name := e.desc.Name
	s.logger.Warn("scheduling critical module restart",
		"module", name, "attempt", e.restartCount, "backoff", backoff)

	time.AfterFunc(backoff, func() {
		_ = s.do(func() { s.restartLocked(name) })
	})
}

// restartLocked re-runs a failed critical module's load sequence. Must run
// on the actor loop.
func (s *Supervisor) restartLocked(name string) {
	e, ok := s.entries[name]
	if !ok || e.state != StateFailed {
		return
	}

	ctx := context.Background()
	factory, ok := s.factories[name]
	if !ok {
		s.haltLocked(types.NewError(types.MODULE_NOT_FOUND,
			fmt.Sprintf("no factory registered for critical module %q", name)))
		return
	}

	fresh, err := s.tryLoad(ctx, e.desc, factory)
	if err != nil {
		s.failLocked(ctx, e, err)
		return
	}

	fresh.restartCount = e.restartCount
	fresh.handlerErrors = e.handlerErrors
	s.entries[name] = fresh
	s.logger.Info("critical module restarted", "module", name, "attempt", e.restartCount)
}

// haltLocked stops everything and reports the fatal error on Wait. Must run
// on the actor loop.
func (s *Supervisor) haltLocked(err error) {
	if s.halted {
		return
	}
	s.halted = true
	s.shutdownAll(context.Background())
	select {
	case s.haltCh <- err:
	default:
	}
	close(s.stopCh)
}

// shutdownAll unwires and shuts down every loaded module in reverse
// dependency order (dependents before their dependencies).
func (s *Supervisor) shutdownAll(ctx context.Context) {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	// Reverse of a valid load order: sort by loadedAt descending.
	sort.Slice(names, func(i, j int) bool {
		return s.entries[names[i]].loadedAt.After(s.entries[names[j]].loadedAt)
	})

	for _, name := range names {
		e := s.entries[name]
		s.unwire(e)
		if e.mod != nil {
			shutdownModule(ctx, e.mod, s.cfg.ShutdownTimeout)
			e.mod = nil
		}
		if e.state == StateActive {
			e.state = StateStopped
		}
	}
}

// Stop shuts down all modules and the supervisor's goroutines.
func (s *Supervisor) Stop(ctx context.Context) error {
	err := s.do(func() {
		if s.halted {
			return
		}
		s.halted = true
		s.shutdownAll(ctx)
		close(s.stopCh)
	})
	if err != nil {
		return nil // already halted
	}
	<-s.doneCh
	return nil
}

// Wait returns a channel that yields the fatal error if the system halts
// because a critical module could not be recovered.
func (s *Supervisor) Wait() <-chan error {
	return s.haltCh
}

// Reload hot-swaps a module without touching any other module: it
// unsubscribes the handlers, tears the module down, re-reads its manifest,
// and re-instantiates it. Only modules marked hot_reloadable can be
// reloaded, and only while their
// declared dependencies are still active.
func (s *Supervisor) Reload(ctx context.Context, name string) error {
	var rerr error
	err := s.do(func() {
		e, ok := s.entries[name]
		if !ok {
			rerr = types.NewError(types.MODULE_NOT_FOUND, fmt.Sprintf("module %q is not loaded", name))
			return
		}
		if !e.desc.HotReloadable {
			rerr = types.NewError(types.MODULE_NOT_RELOADABLE,
				fmt.Sprintf("module %q is not marked hot_reloadable", name))
			return
		}
		for _, dep := range e.desc.Dependencies.Modules {
			de, ok := s.entries[dep]
			if !ok || de.state != StateActive {
				rerr = types.NewError(types.MODULE_INIT_FAILED,
					fmt.Sprintf("cannot reload %q: dependency %q is not active", name, dep))
				return
			}
		}

		desc := e.desc
		if desc.ManifestPath != "" {
			fresh, err := LoadDescriptor(desc.ManifestPath)
			if err != nil {
				rerr = types.WrapError(types.MODULE_MANIFEST_INVALID,
					fmt.Sprintf("cannot reload %q: manifest re-read failed", name), err)
				return
			}
			fresh.HotReloadable = true // a reloadable module stays reloadable
			desc = fresh
		}

		s.unwire(e)
		if e.mod != nil {
			shutdownModule(ctx, e.mod, s.cfg.ShutdownTimeout)
			e.mod = nil
		}

		factory := s.factories[name]
		if factory == nil {
			rerr = types.NewError(types.MODULE_NOT_FOUND,
				fmt.Sprintf("no factory registered for module %q", name))
			return
		}
		fresh, err := s.tryLoad(ctx, desc, factory)
		if err != nil {
			e.state = StateFailed
			s.failLocked(ctx, e, err)
			rerr = err
			return
		}
		fresh.restartCount = e.restartCount
		s.entries[name] = fresh
		s.logger.Info("module reloaded", "module", name)
	})
	if err != nil {
		return err
	}
	return rerr
}

// LoadModule adds a new module at runtime without restarting others. Its
// dependencies must already be active.
func (s *Supervisor) LoadModule(ctx context.Context, desc *Descriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	var rerr error
	err := s.do(func() {
		if _, exists := s.entries[desc.Name]; exists {
			rerr = types.NewError(types.MODULE_MANIFEST_INVALID,
				fmt.Sprintf("module %q is already loaded", desc.Name))
			return
		}
		for _, dep := range desc.Dependencies.Modules {
			de, ok := s.entries[dep]
			if !ok || de.state != StateActive {
				rerr = types.NewError(types.MODULE_INIT_FAILED,
					fmt.Sprintf("cannot load %q: dependency %q is not active", desc.Name, dep))
				return
			}
		}
		e, err := s.load(ctx, desc)
		if err != nil {
			rerr = err
			return
		}
		s.entries[desc.Name] = e
	})
	if err != nil {
		return err
	}
	return rerr
}

// UnloadModule removes a module at runtime. Refused while any active module
// still depends on it.
func (s *Supervisor) UnloadModule(ctx context.Context, name string) error {
	var rerr error
	err := s.do(func() {
		e, ok := s.entries[name]
		if !ok {
			rerr = types.NewError(types.MODULE_NOT_FOUND, fmt.Sprintf("module %q is not loaded", name))
			return
		}
		for _, other := range s.entries {
			if other.state != StateActive || other.desc.Name == name {
				continue
			}
			for _, dep := range other.desc.Dependencies.Modules {
				if dep == name {
					rerr = types.NewError(types.MODULE_INIT_FAILED,
						fmt.Sprintf("cannot unload %q: module %q depends on it", name, other.desc.Name))
					return
				}
			}
		}
		s.unwire(e)
		if e.mod != nil {
			shutdownModule(ctx, e.mod, s.cfg.ShutdownTimeout)
			e.mod = nil
		}
		delete(s.entries, name)
		s.logger.Info("module unloaded", "module", name)
	})
	if err != nil {
		return err
	}
	return rerr
}

// Snapshots returns a copy of every module's supervised state, sorted by
// name.
func (s *Supervisor) Snapshots() []Snapshot {
	var out []Snapshot
	_ = s.do(func() {
		for _, e := range s.entries {
			out = append(out, e.snapshot())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ModuleSnapshot returns the supervised state of one module.
func (s *Supervisor) ModuleSnapshot(name string) (Snapshot, bool) {
	var snap Snapshot
	var ok bool
	_ = s.do(func() {
		if e, found := s.entries[name]; found {
			snap = e.snapshot()
			ok = true
		}
	})
	return snap, ok
}
