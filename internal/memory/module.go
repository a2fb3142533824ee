package memory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"github.com/AetharaAI/lotus/internal/bus"
	"github.com/AetharaAI/lotus/internal/module"
	"github.com/AetharaAI/lotus/internal/types"
)

// StoreEvent is the payload of a memory.store event.
type StoreEvent struct {
	ID                 string  `json:"id,omitempty" mapstructure:"id"`
	Content            string  `json:"content" mapstructure:"content"`
	Kind               string  `json:"kind,omitempty" mapstructure:"kind"`
	Importance         float64 `json:"importance" mapstructure:"importance"`
	Source             string  `json:"source,omitempty" mapstructure:"source"`
	OverrideImportance bool    `json:"override_importance,omitempty" mapstructure:"override_importance"`
}

// StoreAck is published on memory.store.ack.<corrid> when the store event
// carried a correlation id.
type StoreAck struct {
	ID         string `json:"id"`
	TierOrigin string `json:"tier_origin"`
}

// RetrieveRequest is the payload of a memory.retrieve.request event.
type RetrieveRequest struct {
	Query string `json:"query" mapstructure:"query"`
	Limit int    `json:"limit,omitempty" mapstructure:"limit"`

	// Weights optionally overrides the ranking coefficients for this
	// request only.
	Weights *ScoreWeights `json:"tier_weights,omitempty" mapstructure:"tier_weights"`
}

// RetrieveResponse is the payload of memory.retrieve.response.<corrid>.
type RetrieveResponse struct {
	Items         []ScoredItem `json:"items"`
	DegradedTiers []string     `json:"degraded_tiers,omitempty"`
}

// ForgetEvent is the payload of a memory.forget event.
type ForgetEvent struct {
	ID string `json:"id" mapstructure:"id"`
}

// ModuleName is the memory module's name in manifests and factories.
const ModuleName = "memory"

// Module exposes the memory subsystem to the rest of the system as a
// supervised module. Other modules never hold a reference to the manager;
// they reach memory exclusively through bus events.
type Module struct {
	cfg     Config
	manager *Manager
	cons    *Consolidator
	rt      *module.Runtime
	logger  *slog.Logger
}

// NewFactory returns the module factory the supervisor uses to construct
// the memory module.
func NewFactory(cfg Config) module.Factory {
	return func(desc *module.Descriptor) (module.Module, error) {
		return &Module{cfg: cfg}, nil
	}
}

// Name returns the module name.
func (m *Module) Name() string { return ModuleName }

// Initialize builds the manager and starts the consolidation loop.
func (m *Module) Initialize(ctx context.Context, rt *module.Runtime) error {
	mgr, err := NewManager(m.cfg, rt.Logger)
	if err != nil {
		return err
	}
	m.manager = mgr
	m.rt = rt
	m.logger = rt.Logger
	m.cons = NewConsolidator(mgr, m.cfg.Consolidation, rt.Logger)
	m.cons.Start(context.Background())
	return nil
}

// Shutdown stops consolidation and closes the tiers.
func (m *Module) Shutdown(ctx context.Context) error {
	if m.cons != nil {
		m.cons.Stop()
	}
	if m.manager != nil {
		return m.manager.Close()
	}
	return nil
}

// Health reports aggregate tier health.
func (m *Module) Health(ctx context.Context) types.HealthStatus {
	if m.manager == nil {
		return types.Unhealthy("memory module not initialized")
	}
	return m.manager.Health(ctx)
}

// Handler resolves the manifest handler names.
func (m *Module) Handler(name string) bus.Handler {
	switch name {
	case "on_store":
		return m.onStore
	case "on_retrieve":
		return m.onRetrieve
	case "on_forget":
		return m.onForget
	default:
		return nil
	}
}

// Manager exposes the underlying manager for in-process callers (tests,
// the CLI's direct commands).
func (m *Module) Manager() *Manager { return m.manager }

// onStore handles memory.store events.
func (m *Module) onStore(ctx context.Context, env bus.Envelope) error {
	var evt StoreEvent
	if err := decodePayload(env.Data, &evt); err != nil {
		return err
	}

	item := types.MemoryItem{
		ID:         evt.ID,
		Content:    evt.Content,
		Kind:       types.Kind(evt.Kind),
		Importance: evt.Importance,
		Source:     evt.Source,
	}
	if item.Source == "" {
		item.Source = env.Source
	}

	var opts []StoreOption
	if evt.OverrideImportance {
		opts = append(opts, WithImportanceOverride())
	}

	stored, err := m.manager.Store(ctx, item, opts...)
	if err != nil {
		return err
	}

	if env.CorrelationID != "" {
		ack := bus.NewEnvelope("memory.store.ack."+env.CorrelationID, ModuleName, StoreAck{
			ID:         stored.ID,
			TierOrigin: stored.TierOrigin.String(),
		})
		if err := m.rt.Bus.Publish(ctx, ack); err != nil {
			m.logger.Warn("failed to publish store ack", "id", stored.ID, "error", err)
		}
	}
	return nil
}

// onRetrieve handles memory.retrieve.request events and always answers on
// the correlated response topic, degraded or not.
func (m *Module) onRetrieve(ctx context.Context, env bus.Envelope) error {
	var req RetrieveRequest
	if err := decodePayload(env.Data, &req); err != nil {
		return err
	}

	var opts []RetrieveOption
	if req.Weights != nil {
		opts = append(opts, WithWeights(*req.Weights))
	}
	result, err := m.manager.Retrieve(ctx, req.Query, req.Limit, opts...)
	if err != nil {
		return err
	}

	resp := RetrieveResponse{Items: result.Items}
	for _, tier := range result.DegradedTiers {
		resp.DegradedTiers = append(resp.DegradedTiers, tier.String())
	}
	return bus.Respond(ctx, m.rt.Bus, env, ModuleName, "memory.retrieve", resp)
}

// onForget handles memory.forget events.
func (m *Module) onForget(ctx context.Context, env bus.Envelope) error {
	var evt ForgetEvent
	if err := decodePayload(env.Data, &evt); err != nil {
		return err
	}
	if evt.ID == "" {
		return types.NewError(types.MEMORY_ITEM_INVALID, "forget event requires an id")
	}
	return m.manager.Forget(ctx, evt.ID)
}

// decodePayload accepts either the typed payload struct or the generic map
// shape events take after JSON transport.
func decodePayload(data any, out any) error {
	if data == nil {
		return types.NewError(types.MEMORY_ITEM_INVALID, "event payload is empty")
	}
	if err := mapstructure.Decode(data, out); err != nil {
		return types.WrapError(types.MEMORY_ITEM_INVALID,
			fmt.Sprintf("cannot decode event payload of type %T", data), err)
	}
	return nil
}
