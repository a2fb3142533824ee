package module

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/types"
)

func fastSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		HealthInterval:     20 * time.Millisecond,
		InitTimeout:        time.Second,
		ShutdownTimeout:    time.Second,
		RestartMaxAttempts: 1,
		RestartBackoffBase: 5 * time.Millisecond,
	}
}

// recorder tracks lifecycle calls across modules for ordering assertions.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func recordedFactory(rec *recorder) Factory {
	return func(d *Descriptor) (Module, error) {
		name := d.Name
		return &FuncModule{
			ModuleName: name,
			InitializeFn: func(ctx context.Context, rt *Runtime) error {
				rec.add("init:" + name)
				return nil
			},
			ShutdownFn: func(ctx context.Context) error {
				rec.add("shutdown:" + name)
				return nil
			},
		}, nil
	}
}

func TestSupervisorBootOrder(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	factories := map[string]Factory{
		"memory":  recordedFactory(rec),
		"planner": recordedFactory(rec),
		"agent":   recordedFactory(rec),
	}
	descs := []*Descriptor{
		desc("agent", PriorityNormal, "planner"),
		desc("planner", PriorityNormal, "memory"),
		desc("memory", PriorityCritical),
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), descs))
	defer sup.Stop(context.Background())

	// Strictly sequential, dependencies first.
	assert.Equal(t, []string{"init:memory", "init:planner", "init:agent"}, rec.all())

	for _, snap := range sup.Snapshots() {
		assert.Equal(t, StateActive, snap.State, "module %s", snap.Name)
	}
}

func TestSupervisorWiresSubscriptions(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	received := make(chan bus.Envelope, 1)
	factories := map[string]Factory{
		"listener": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "listener",
				Handlers: map[string]bus.Handler{
					"on_event": func(ctx context.Context, env bus.Envelope) error {
						received <- env
						return nil
					},
				},
			}, nil
		},
	}
	d := desc("listener", PriorityNormal)
	d.Subscriptions = []SubscriptionSpec{{Pattern: "agent.task.*", Handler: "on_event"}}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{d}))
	defer sup.Stop(context.Background())

	require.NoError(t, eb.Publish(context.Background(), bus.NewEnvelope("agent.task.created", "test", "payload")))

	select {
	case env := <-received:
		assert.Equal(t, "agent.task.created", env.Topic)
	case <-time.After(time.Second):
		t.Fatal("subscribed handler never received the event")
	}
}

func TestSupervisorQuarantinesNonCriticalInitFailure(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	factories := map[string]Factory{
		"flaky": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "flaky",
				InitializeFn: func(ctx context.Context, rt *Runtime) error {
					return errors.New("no backend available")
				},
			}, nil
		},
		"solid": recordedFactory(rec),
	}
	descs := []*Descriptor{
		desc("flaky", PriorityNormal),
		desc("solid", PriorityNormal),
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), descs))
	defer sup.Stop(context.Background())

	flaky, ok := sup.ModuleSnapshot("flaky")
	require.True(t, ok)
	assert.Equal(t, StateQuarantined, flaky.State)
	assert.True(t, flaky.LastHealth.IsUnhealthy())

	solid, ok := sup.ModuleSnapshot("solid")
	require.True(t, ok)
	assert.Equal(t, StateActive, solid.State)
}

func TestSupervisorCriticalInitFailureFailsBoot(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	attempts := 0
	factories := map[string]Factory{
		"kernel-store": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "kernel-store",
				InitializeFn: func(ctx context.Context, rt *Runtime) error {
					attempts++
					return errors.New("disk on fire")
				},
			}, nil
		},
	}
	cfg := fastSupervisorConfig()
	cfg.RestartMaxAttempts = 2

	sup := NewSupervisor(eb, factories, cfg, nil)
	err := sup.Start(context.Background(), []*Descriptor{desc("kernel-store", PriorityCritical)})
	require.Error(t, err)
	assert.Equal(t, types.MODULE_INIT_FAILED, types.CodeOf(err))
	assert.Equal(t, 2, attempts, "critical boot retries up to the restart budget")
}

func TestSupervisorInitPanicIsIsolated(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	factories := map[string]Factory{
		"panicky": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "panicky",
				InitializeFn: func(ctx context.Context, rt *Runtime) error {
					panic("nil map write")
				},
			}, nil
		},
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("panicky", PriorityNormal)}))
	defer sup.Stop(context.Background())

	snap, ok := sup.ModuleSnapshot("panicky")
	require.True(t, ok)
	assert.Equal(t, StateQuarantined, snap.State)
}

func TestSupervisorHealthFailureQuarantinesNonCritical(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	var mu sync.Mutex
	healthy := true
	factories := map[string]Factory{
		"watcher": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "watcher",
				HealthFn: func(ctx context.Context) types.HealthStatus {
					mu.Lock()
					defer mu.Unlock()
					if healthy {
						return types.Healthy("ok")
					}
					return types.Unhealthy("backend gone")
				},
			}, nil
		},
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("watcher", PriorityNormal)}))
	defer sup.Stop(context.Background())

	mu.Lock()
	healthy = false
	mu.Unlock()

	require.Eventually(t, func() bool {
		snap, ok := sup.ModuleSnapshot("watcher")
		return ok && snap.State == StateQuarantined
	}, 2*time.Second, 10*time.Millisecond, "unhealthy non-critical module should be quarantined")
}

func TestSupervisorCriticalExhaustedBudgetHalts(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	factories := map[string]Factory{
		"core-bus": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "core-bus",
				HealthFn: func(ctx context.Context) types.HealthStatus {
					return types.Unhealthy("permanently broken")
				},
			}, nil
		},
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("core-bus", PriorityCritical)}))

	select {
	case err := <-sup.Wait():
		require.Error(t, err)
		assert.Equal(t, types.SUPERVISOR_HALTED, types.CodeOf(err))
		assert.Contains(t, err.Error(), "core-bus")
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor never halted after exhausting the restart budget")
	}
}

func TestSupervisorCriticalRestartRecovers(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	var mu sync.Mutex
	failures := 1
	factories := map[string]Factory{
		"store": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "store",
				HealthFn: func(ctx context.Context) types.HealthStatus {
					mu.Lock()
					defer mu.Unlock()
					if failures > 0 {
						failures--
						return types.Unhealthy("transient failure")
					}
					return types.Healthy("ok")
				},
			}, nil
		},
	}
	cfg := fastSupervisorConfig()
	cfg.RestartMaxAttempts = 3

	sup := NewSupervisor(eb, factories, cfg, nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("store", PriorityCritical)}))
	defer sup.Stop(context.Background())

	require.Eventually(t, func() bool {
		snap, ok := sup.ModuleSnapshot("store")
		return ok && snap.State == StateActive && snap.RestartCount == 1
	}, 2*time.Second, 10*time.Millisecond, "critical module should be restarted after a transient failure")
}

func TestSupervisorReload(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	factories := map[string]Factory{
		"planner": recordedFactory(rec),
	}
	d := desc("planner", PriorityNormal)
	d.HotReloadable = true

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{d}))
	defer sup.Stop(context.Background())

	require.NoError(t, sup.Reload(context.Background(), "planner"))

	assert.Equal(t, []string{"init:planner", "shutdown:planner", "init:planner"}, rec.all())
	snap, ok := sup.ModuleSnapshot("planner")
	require.True(t, ok)
	assert.Equal(t, StateActive, snap.State)
}

func TestSupervisorReloadNotReloadable(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	sup := NewSupervisor(eb, map[string]Factory{"fixed": recordedFactory(rec)}, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("fixed", PriorityNormal)}))
	defer sup.Stop(context.Background())

	err := sup.Reload(context.Background(), "fixed")
	require.Error(t, err)
	assert.Equal(t, types.MODULE_NOT_RELOADABLE, types.CodeOf(err))
}

func TestSupervisorLoadAndUnloadAtRuntime(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	factories := map[string]Factory{
		"memory":  recordedFactory(rec),
		"planner": recordedFactory(rec),
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), []*Descriptor{desc("memory", PriorityNormal)}))
	defer sup.Stop(context.Background())

	require.NoError(t, sup.LoadModule(context.Background(), desc("planner", PriorityNormal, "memory")))
	snap, ok := sup.ModuleSnapshot("planner")
	require.True(t, ok)
	assert.Equal(t, StateActive, snap.State)

	// memory cannot be unloaded while planner depends on it.
	err := sup.UnloadModule(context.Background(), "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner")

	require.NoError(t, sup.UnloadModule(context.Background(), "planner"))
	_, ok = sup.ModuleSnapshot("planner")
	assert.False(t, ok)

	require.NoError(t, sup.UnloadModule(context.Background(), "memory"))
}

func TestSupervisorStopShutsDownInReverseOrder(t *testing.T) {
	eb := bus.NewEventBus()
	defer eb.Close()

	rec := &recorder{}
	factories := map[string]Factory{
		"memory":  recordedFactory(rec),
		"planner": recordedFactory(rec),
	}
	descs := []*Descriptor{
		desc("planner", PriorityNormal, "memory"),
		desc("memory", PriorityNormal),
	}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	require.NoError(t, sup.Start(context.Background(), descs))
	require.NoError(t, sup.Stop(context.Background()))

	assert.Equal(t, []string{
		"init:memory", "init:planner",
		"shutdown:planner", "shutdown:memory",
	}, rec.all())
}

func TestSupervisorHandlerErrorsCounted(t *testing.T) {
	errFnHolder := &struct {
		mu sync.Mutex
		fn bus.ErrorFunc
	}{}
	eb := bus.NewEventBus(bus.WithErrorFunc(func(sub *bus.Subscription, env bus.Envelope, err error) {
		errFnHolder.mu.Lock()
		fn := errFnHolder.fn
		errFnHolder.mu.Unlock()
		if fn != nil {
			fn(sub, env, err)
		}
	}))
	defer eb.Close()

	factories := map[string]Factory{
		"failing": func(d *Descriptor) (Module, error) {
			return &FuncModule{
				ModuleName: "failing",
				Handlers: map[string]bus.Handler{
					"on_event": func(ctx context.Context, env bus.Envelope) error {
						return errors.New("handler boom")
					},
				},
			}, nil
		},
	}
	d := desc("failing", PriorityNormal)
	d.Subscriptions = []SubscriptionSpec{{Pattern: "agent.work", Handler: "on_event"}}

	sup := NewSupervisor(eb, factories, fastSupervisorConfig(), nil)
	errFnHolder.mu.Lock()
	errFnHolder.fn = sup.HandlerErrorFunc()
	errFnHolder.mu.Unlock()

	require.NoError(t, sup.Start(context.Background(), []*Descriptor{d}))
	defer sup.Stop(context.Background())

	require.NoError(t, eb.Publish(context.Background(), bus.NewEnvelope("agent.work", "test", nil)))

	require.Eventually(t, func() bool {
		snap, ok := sup.ModuleSnapshot("failing")
		return ok && snap.HandlerErrors == 1
	}, 2*time.Second, 10*time.Millisecond)
}
