package handler

import (
	"context"
	"log/slog"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
)

// Router classifies envelopes and runs the matching handler inside one
// write transaction.
type Router struct {
	writer   graphstore.Writer
	registry *Registry
	fallback Handler
	policy   atomic.Value // string
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewRouter creates a Router. policy is one of config.PolicyAttempted or
// config.PolicyConfirmed.
func NewRouter(w graphstore.Writer, reg *Registry, policy string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{
		writer:   w,
		registry: reg,
		fallback: genericHandler{},
		logger:   logger,
		tracer:   otel.Tracer("github.com/gyaneshwarpardhi/clinigraph/internal/handler"),
	}
	r.SetPolicy(policy)
	return r
}

// SetPolicy swaps the relationship counting policy (used on hot-reload).
func (r *Router) SetPolicy(policy string) {
	if policy != config.PolicyConfirmed {
		policy = config.PolicyAttempted
	}
	r.policy.Store(policy)
}

// Policy returns the active relationship counting policy.
func (r *Router) Policy() string {
	return r.policy.Load().(string)
}

// Route writes env to the graph. Unknown kinds go to the generic handler.
// Store failures come back as *event.IngestionError of kind StoreWriteFailed
// and nothing of the envelope is committed.
func (r *Router) Route(ctx context.Context, env *event.Envelope) (*WriteResult, error) {
	h, err := r.registry.Get(env.Kind)
	if err != nil {
		h = r.fallback
	}

	ctx, span := r.tracer.Start(ctx, "graph.write", trace.WithAttributes(
		attribute.String("entity.kind", env.Kind.String()),
		attribute.String("entity.raw_kind", env.RawKind),
		attribute.String("entity.id", env.ID),
	))
	defer span.End()

	var res *WriteResult
	err = r.writer.ExecuteWrite(ctx, func(ctx context.Context, tx graphstore.Tx) error {
		var werr error
		res, werr = h.Write(ctx, tx, env)
		return werr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		metrics.EntityWrites.WithLabelValues(env.Kind.String(), "error").Inc()
		r.logger.Error("graph write failed",
			"entity_type", env.RawKind,
			"entity_id", env.ID,
			"err", err,
		)
		return nil, event.NewError(event.StoreWriteFailed, env.ID, err)
	}

	res.RelationshipsCreated = res.RelationshipsAttempted
	if r.Policy() == config.PolicyConfirmed {
		res.RelationshipsCreated = res.RelationshipsConfirmed
	}
	span.SetAttributes(attribute.Int("relationships.created", res.RelationshipsCreated))
	metrics.EntityWrites.WithLabelValues(env.Kind.String(), "success").Inc()
	r.logger.Debug("graph write committed",
		"entity_type", res.Type,
		"entity_id", res.EntityID,
		"relationships_created", res.RelationshipsCreated,
		"relationships_confirmed", res.RelationshipsConfirmed,
	)
	return res, nil
}
