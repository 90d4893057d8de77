package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIngestRecorder(t *testing.T) {
	r := NewIngestRecorder()
	assert.Zero(t, r.Snapshot().SuccessRate())

	r.RecordSuccess(10*time.Millisecond, 2)
	r.RecordSuccess(30*time.Millisecond, 0)
	r.RecordFailure(20*time.Millisecond, "")

	snap := r.Snapshot()
	assert.Equal(t, int64(2), snap.MessagesProcessed)
	assert.Equal(t, int64(1), snap.MessagesFailed)
	assert.Equal(t, int64(2), snap.RelationshipsCreated)
	assert.Equal(t, 60*time.Millisecond, snap.TotalProcessingTime)
	assert.Equal(t, 30*time.Millisecond, snap.AvgProcessingTime())
	assert.InDelta(t, 66.67, snap.SuccessRate(), 0.01)
}

func TestIngestRecorder_Concurrent(t *testing.T) {
	const writers, perWriter = 8, 500
	r := NewIngestRecorder()

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		var last int64
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := r.Snapshot()
			seen := snap.MessagesProcessed + snap.MessagesFailed
			assert.GreaterOrEqual(t, seen, last)
			assert.Equal(t, snap.MessagesProcessed, snap.RelationshipsCreated)
			last = seen
		}
	}()

	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWriter {
				if (w+i)%4 == 0 {
					r.RecordFailure(time.Millisecond, "store_write_failed")
					continue
				}
				r.RecordSuccess(time.Millisecond, 1)
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-readerDone

	snap := r.Snapshot()
	assert.Equal(t, int64(writers*perWriter), snap.MessagesProcessed+snap.MessagesFailed)
	assert.Equal(t, int64(writers*perWriter/4), snap.MessagesFailed)
	assert.Equal(t, snap.MessagesProcessed, snap.RelationshipsCreated)
	assert.Equal(t, time.Duration(writers*perWriter)*time.Millisecond, snap.TotalProcessingTime)
}

func TestIngestSnapshot_IsACopy(t *testing.T) {
	r := NewIngestRecorder()
	snap := r.Snapshot()
	r.RecordSuccess(time.Millisecond, 1)
	assert.Zero(t, snap.MessagesProcessed)
	assert.Equal(t, int64(1), r.Snapshot().MessagesProcessed)
}

func TestIngestSnapshot_Throughput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := IngestSnapshot{MessagesProcessed: 100, StartTime: start}

	assert.Equal(t, 10*time.Second, snap.Uptime(start.Add(10*time.Second)))
	assert.InDelta(t, 10.0, snap.Throughput(start.Add(10*time.Second)), 1e-9)
	// Uptime below one second counts as one second.
	assert.InDelta(t, 100.0, snap.Throughput(start.Add(100*time.Millisecond)), 1e-9)
	assert.Zero(t, IngestSnapshot{}.AvgProcessingTime())
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestPublishRecorder(t *testing.T) {
	clk := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewPublishRecorder()
	r.now = clk.now
	assert.Equal(t, PublishStats{}, r.Stats())

	r.Start()
	for range 8 {
		r.RecordSuccess(250)
	}
	r.RecordFailure()
	r.RecordFailure()
	r.RecordBatch(20 * time.Millisecond)
	r.RecordBatch(40 * time.Millisecond)
	clk.t = clk.t.Add(2 * time.Second)
	r.Finish()

	st := r.Stats()
	assert.Equal(t, 2*time.Second, st.Duration)
	assert.Equal(t, int64(10), st.TotalMessages)
	assert.Equal(t, int64(8), st.MessagesSent)
	assert.Equal(t, int64(2), st.MessagesFailed)
	assert.InDelta(t, 80.0, st.SuccessRatePercent, 1e-9)
	assert.InDelta(t, 4.0, st.ThroughputMsgPerSec, 1e-9)
	assert.Equal(t, int64(2000), st.TotalBytesSent)
	assert.InDelta(t, 250.0, st.AvgMessageSize, 1e-9)
	assert.InDelta(t, 1000.0, st.ThroughputBytesPerSec, 1e-9)
	assert.Equal(t, 2, st.Batches)
	assert.Equal(t, 30*time.Millisecond, st.AvgBatchTime)

	// Stats is stable after Finish.
	clk.t = clk.t.Add(time.Hour)
	assert.Equal(t, st, r.Stats())
}

func TestPublishRecorder_NothingSent(t *testing.T) {
	r := NewPublishRecorder()
	r.Start()
	r.Finish()
	st := r.Stats()
	assert.Zero(t, st.SuccessRatePercent)
	assert.Zero(t, st.AvgMessageSize)
	assert.Zero(t, st.AvgBatchTime)
}
