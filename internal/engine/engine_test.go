package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
	"github.com/gyaneshwarpardhi/clinigraph/internal/handler"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
)

// gatedRouter blocks every write until release is closed.
type gatedRouter struct {
	release chan struct{}
	calls   atomic.Int64
	err     error
}

func newGatedRouter() *gatedRouter {
	return &gatedRouter{release: make(chan struct{})}
}

func (g *gatedRouter) Route(ctx context.Context, env *event.Envelope) (*handler.WriteResult, error) {
	<-g.release
	g.calls.Add(1)
	if g.err != nil {
		return nil, g.err
	}
	return &handler.WriteResult{EntityID: env.ID, Type: env.Kind.String(), RelationshipsCreated: 2}, nil
}

func ingestConf(workers, depth, timeoutMs int) config.IngestConf {
	return config.IngestConf{
		DispatchWorkers:    workers,
		QueueDepth:         depth,
		DispatchTimeoutMs:  timeoutMs,
		RelationshipPolicy: config.PolicyAttempted,
	}
}

func TestDispatch_WritesThroughRouter(t *testing.T) {
	store := graphstore.NewMemStore()
	router := handler.NewRouter(store, handler.DefaultRegistry(), config.PolicyAttempted, nil)
	rec := metrics.NewIngestRecorder()
	d := New(context.Background(), router, rec, ingestConf(2, 10, 1000), time.Second, nil)
	defer d.Shutdown()

	res, err := d.Dispatch(context.Background(), []byte(`{"kind":"facility","id":"f1","name":"General"}`))
	require.NoError(t, err)
	assert.Equal(t, "f1", res.EntityID)
	assert.Equal(t, "Facility", res.Type)
	assert.GreaterOrEqual(t, res.ProcessingTimeMs, 0.0)

	res, err = d.Dispatch(context.Background(), map[string]any{"kind": "provider", "id": "p1", "facility_id": "f1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.RelationshipsCreated)

	snap := rec.Snapshot()
	assert.Equal(t, int64(2), snap.MessagesProcessed)
	assert.Equal(t, int64(0), snap.MessagesFailed)
	assert.Equal(t, int64(1), snap.RelationshipsCreated)
	assert.Equal(t, 100.0, snap.SuccessRate())
}

func TestDispatch_MalformedPayload(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	close(g.release)
	d := New(context.Background(), g, rec, ingestConf(1, 1, 1000), 0, nil)
	defer d.Shutdown()

	_, err := d.Dispatch(context.Background(), []byte("not json!!"))
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrMalformedPayload)
	assert.Equal(t, int64(0), g.calls.Load())
	assert.Equal(t, int64(1), rec.Snapshot().MessagesFailed)
}

func TestDispatch_StoreFailureIsCounted(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	g.err = errors.New("bolt: connection refused")
	close(g.release)
	d := New(context.Background(), g, rec, ingestConf(1, 1, 1000), 0, nil)
	defer d.Shutdown()

	_, err := d.Dispatch(context.Background(), map[string]any{"kind": "subject", "id": "s1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrStoreWriteFailed)

	snap := rec.Snapshot()
	assert.Equal(t, int64(0), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, 0.0, snap.SuccessRate())
}

func TestDispatch_QueueFullIsOverloaded(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	d := New(context.Background(), g, rec, ingestConf(1, 1, 5000), 0, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Dispatch(context.Background(), map[string]any{"kind": "facility", "id": "busy"})
	}()
	require.Eventually(t, func() bool { return d.InFlight() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = d.Dispatch(context.Background(), map[string]any{"kind": "facility", "id": "queued"})
	}()
	require.Eventually(t, func() bool { return d.QueueUtilization() == 1 }, time.Second, time.Millisecond)

	_, err := d.Dispatch(context.Background(), map[string]any{"kind": "facility", "id": "rejected"})
	require.Error(t, err)
	assert.True(t, IsOverloaded(err))

	close(g.release)
	wg.Wait()
	d.Shutdown()

	snap := rec.Snapshot()
	assert.Equal(t, int64(2), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesFailed)
}

func TestDispatch_TimeoutCountsFailure(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	d := New(context.Background(), g, rec, ingestConf(1, 4, 20), 0, nil)

	_, err := d.Dispatch(context.Background(), map[string]any{"kind": "diagnosis", "id": "d1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, event.ErrDispatchTimeout)

	snap := rec.Snapshot()
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(0), snap.MessagesProcessed)

	// The late write is not counted a second time.
	close(g.release)
	d.Shutdown()
	assert.Equal(t, int64(1), g.calls.Load())
	snap = rec.Snapshot()
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(0), snap.MessagesProcessed)
	assert.Zero(t, snap.RelationshipsCreated)
}

func TestDispatch_CallerCancelCountsFailure(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	d := New(context.Background(), g, rec, ingestConf(1, 4, 10000), 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := d.Dispatch(ctx, map[string]any{"kind": "facility", "id": "f1"})
	assert.ErrorIs(t, err, event.ErrDispatchTimeout)
	assert.ErrorIs(t, err, context.Canceled)

	close(g.release)
	d.Shutdown()
	snap := rec.Snapshot()
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(0), snap.MessagesProcessed)
}

func TestDispatch_SetTimeout(t *testing.T) {
	g := newGatedRouter()
	d := New(context.Background(), g, nil, ingestConf(1, 1, 20), 0, nil)
	assert.Equal(t, 20*time.Millisecond, d.Timeout())

	d.SetTimeout(time.Second)
	assert.Equal(t, time.Second, d.Timeout())

	close(g.release)
	d.Shutdown()
}

func TestShutdown_DrainsQueuedWork(t *testing.T) {
	rec := metrics.NewIngestRecorder()
	g := newGatedRouter()
	d := New(context.Background(), g, rec, ingestConf(2, 10, 5000), 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Dispatch(context.Background(), map[string]any{"kind": "medication"})
		}()
	}
	require.Eventually(t, func() bool {
		return d.InFlight()+d.pool.QueueLen() == 6
	}, time.Second, time.Millisecond)

	close(g.release)
	d.Shutdown()
	wg.Wait()

	assert.Equal(t, int64(6), g.calls.Load())
	assert.Equal(t, int64(6), rec.Snapshot().MessagesProcessed)

	_, err := d.Dispatch(context.Background(), map[string]any{"kind": "medication"})
	assert.True(t, IsOverloaded(err))
}

func TestWorkerPool_SubmitAfterDrain(t *testing.T) {
	p := newWorkerPool[int, int](context.Background(), 1, 1, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	assert.True(t, p.Submit(1))
	p.Drain()
	p.Drain()
	assert.False(t, p.Submit(2))
	assert.Equal(t, 1, p.QueueCap())
}
