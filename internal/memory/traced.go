package memory

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AetharaAI/lotus/internal/types"
)

// TracedManager wraps a Manager with OpenTelemetry tracing. Every memory
// operation gets a span named "lotus.memory.{operation}" carrying the item
// id, importance, and result counts where applicable.
type TracedManager struct {
	inner  *Manager
	tracer trace.Tracer
}

// NewTracedManager wraps a manager with tracing.
func NewTracedManager(inner *Manager, tracer trace.Tracer) *TracedManager {
	return &TracedManager{inner: inner, tracer: tracer}
}

// Inner returns the wrapped manager.
func (t *TracedManager) Inner() *Manager { return t.inner }

// Store traces a routed write.
func (t *TracedManager) Store(ctx context.Context, item types.MemoryItem, opts ...StoreOption) (types.MemoryItem, error) {
	ctx, span := t.tracer.Start(ctx, "lotus.memory.store")
	defer span.End()

	span.SetAttributes(
		attribute.String("lotus.memory.kind", item.Kind.String()),
		attribute.Float64("lotus.memory.importance", item.Importance),
	)

	stored, err := t.inner.Store(ctx, item, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return stored, err
	}

	span.SetAttributes(
		attribute.String("lotus.memory.id", stored.ID),
		attribute.String("lotus.memory.tier_origin", stored.TierOrigin.String()),
	)
	span.SetStatus(codes.Ok, "store succeeded")
	return stored, nil
}

// Retrieve traces a cross-tier query.
func (t *TracedManager) Retrieve(ctx context.Context, query string, limit int, opts ...RetrieveOption) (*RetrievalResult, error) {
	ctx, span := t.tracer.Start(ctx, "lotus.memory.retrieve")
	defer span.End()

	span.SetAttributes(attribute.Int("lotus.memory.limit", limit))

	start := time.Now()
	result, err := t.inner.Retrieve(ctx, query, limit, opts...)
	span.SetAttributes(attribute.Float64("lotus.memory.duration_ms",
		float64(time.Since(start).Milliseconds())))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("lotus.memory.results", len(result.Items)),
		attribute.Int("lotus.memory.degraded_tiers", len(result.DegradedTiers)),
	)
	span.SetStatus(codes.Ok, "retrieve succeeded")
	return result, nil
}

// Get traces a by-id lookup.
func (t *TracedManager) Get(ctx context.Context, id string) (*types.MemoryItem, bool, error) {
	ctx, span := t.tracer.Start(ctx, "lotus.memory.get")
	defer span.End()

	span.SetAttributes(attribute.String("lotus.memory.id", id))

	item, found, err := t.inner.Get(ctx, id)
	span.SetAttributes(attribute.Bool("lotus.memory.found", found))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	span.SetStatus(codes.Ok, "get succeeded")
	return item, found, nil
}

// Forget traces a cross-tier delete.
func (t *TracedManager) Forget(ctx context.Context, id string) error {
	ctx, span := t.tracer.Start(ctx, "lotus.memory.forget")
	defer span.End()

	span.SetAttributes(attribute.String("lotus.memory.id", id))

	if err := t.inner.Forget(ctx, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "forget succeeded")
	return nil
}
