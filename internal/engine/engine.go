// Package engine runs decoded envelopes through the graph router on a
// bounded worker pool and keeps the ingestion counters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/handler"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
)

// Router writes one envelope to the graph.
type Router interface {
	Route(ctx context.Context, env *event.Envelope) (*handler.WriteResult, error)
}

type outcome struct {
	res *handler.WriteResult
	err error
}

type dispatchWork struct {
	env      *event.Envelope
	enqueued time.Time
	resultC  chan outcome
	// settled is claimed once, either by the worker recording the outcome
	// or by the caller giving up. The winner owns the counters.
	settled atomic.Bool
}

// Dispatcher is the single entry point for ingestion. HTTP and NATS
// deliveries both go through Dispatch.
type Dispatcher struct {
	router       Router
	recorder     *metrics.IngestRecorder
	pool         *workerPool[*dispatchWork, *handler.WriteResult]
	timeout      atomic.Int64
	writeTimeout time.Duration
	logger       *slog.Logger
	tracer       trace.Tracer
}

// New creates a Dispatcher and starts its workers. writeTimeout bounds a
// single graph write independently of the caller; zero means unbounded.
func New(ctx context.Context, router Router, recorder *metrics.IngestRecorder, conf config.IngestConf, writeTimeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewIngestRecorder()
	}
	d := &Dispatcher{
		router:       router,
		recorder:     recorder,
		writeTimeout: writeTimeout,
		logger:       logger,
		tracer:       otel.Tracer("github.com/gyaneshwarpardhi/clinigraph/internal/engine"),
	}
	d.SetTimeout(conf.DispatchTimeout())
	d.pool = newWorkerPool[*dispatchWork, *handler.WriteResult](
		ctx,
		max(conf.DispatchWorkers, 1),
		max(conf.QueueDepth, 1),
		d.process,
	)
	return d
}

// SetTimeout changes how long Dispatch waits for a result (used on hot-reload).
func (d *Dispatcher) SetTimeout(t time.Duration) {
	d.timeout.Store(int64(t))
}

// Timeout returns the current dispatch timeout.
func (d *Dispatcher) Timeout() time.Duration {
	return time.Duration(d.timeout.Load())
}

// Recorder exposes the counters for the statistics endpoints.
func (d *Dispatcher) Recorder() *metrics.IngestRecorder {
	return d.recorder
}

// Dispatch decodes raw, writes it to the graph and waits for the result.
//
// Malformed input fails immediately with ErrMalformedPayload. A full queue
// fails with ErrOverloaded. When no result arrives within the dispatch
// timeout the caller gets ErrDispatchTimeout and the envelope is counted
// as failed; the write is not interrupted, but its late outcome is only
// logged.
func (d *Dispatcher) Dispatch(ctx context.Context, raw any) (*handler.WriteResult, error) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "ingest.dispatch")
	defer span.End()

	env, err := event.Decode(raw)
	if err != nil {
		d.recorder.RecordFailure(time.Since(start), string(event.MalformedPayload))
		return nil, d.fail(span, err)
	}
	span.SetAttributes(
		attribute.String("entity.kind", env.Kind.String()),
		attribute.String("entity.id", env.ID),
	)

	w := &dispatchWork{env: env, enqueued: start, resultC: make(chan outcome, 1)}
	if !d.pool.Submit(w) {
		d.recorder.RecordFailure(time.Since(start), string(event.Overloaded))
		err := event.NewError(event.Overloaded, env.ID,
			fmt.Errorf("dispatch queue full (capacity %d)", d.pool.QueueCap()))
		return nil, d.fail(span, err)
	}
	metrics.MessagesEnqueued.Inc()

	timeout := d.Timeout()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-w.resultC:
		if o.err != nil {
			return nil, d.fail(span, o.err)
		}
		return o.res, nil
	case <-timer.C:
		return d.abandon(span, w, event.NewError(event.DispatchTimeout, env.ID,
			fmt.Errorf("no result after %v", timeout)))
	case <-ctx.Done():
		return d.abandon(span, w, event.NewError(event.DispatchTimeout, env.ID, ctx.Err()))
	}
}

// abandon counts w as failed unless the worker already settled it, in
// which case its result is on the way and is returned instead.
func (d *Dispatcher) abandon(span trace.Span, w *dispatchWork, err error) (*handler.WriteResult, error) {
	if !w.settled.CompareAndSwap(false, true) {
		o := <-w.resultC
		if o.err != nil {
			return nil, d.fail(span, o.err)
		}
		return o.res, nil
	}
	d.recorder.RecordFailure(time.Since(w.enqueued), string(event.DispatchTimeout))
	return nil, d.fail(span, err)
}

func (d *Dispatcher) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(event.KindOf(err)))
	return err
}

// process runs on a worker. The write context is detached from the caller
// so an abandoned Dispatch does not abort a half-done transaction.
func (d *Dispatcher) process(ctx context.Context, w *dispatchWork) (*handler.WriteResult, error) {
	wctx := ctx
	if d.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, d.writeTimeout)
		defer cancel()
	}

	res, err := d.router.Route(wctx, w.env)
	elapsed := time.Since(w.enqueued)
	if !w.settled.CompareAndSwap(false, true) {
		d.logger.Warn("write finished after dispatch timeout",
			"entity_type", w.env.Kind.String(),
			"entity_id", w.env.ID,
			"processing_time_ms", float64(elapsed.Microseconds())/1000,
			"err", err,
		)
		return res, err
	}
	if err != nil {
		kind := event.KindOf(err)
		if kind == "" {
			kind = event.StoreWriteFailed
			err = event.NewError(kind, w.env.ID, err)
		}
		d.recorder.RecordFailure(elapsed, string(kind))
		w.resultC <- outcome{err: err}
		return nil, err
	}

	res.ProcessingTimeMs = float64(elapsed.Microseconds()) / 1000
	d.recorder.RecordSuccess(elapsed, res.RelationshipsCreated)
	w.resultC <- outcome{res: res}
	return res, nil
}

// QueueUtilization returns queue used / capacity (0 to 1) and publishes it
// to the gauge.
func (d *Dispatcher) QueueUtilization() float64 {
	util := 0.0
	if c := d.pool.QueueCap(); c > 0 {
		util = float64(d.pool.QueueLen()) / float64(c)
	}
	metrics.QueueUtilization.Set(util)
	return util
}

// InFlight returns how many envelopes workers are writing right now.
func (d *Dispatcher) InFlight() int {
	return d.pool.InFlight()
}

// Shutdown stops intake and waits for queued and in-flight writes. Call it
// before closing the graph store.
func (d *Dispatcher) Shutdown() {
	d.pool.Drain()
	snap := d.recorder.Snapshot()
	d.logger.Info("dispatcher drained",
		"messages_processed", snap.MessagesProcessed,
		"messages_failed", snap.MessagesFailed,
	)
}

// IsOverloaded reports whether err came from a full dispatch queue.
func IsOverloaded(err error) bool {
	return errors.Is(err, event.ErrOverloaded)
}
