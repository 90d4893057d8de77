package metrics

import (
	"sync"
	"time"
)

// PublishStats summarizes one publisher run.
type PublishStats struct {
	Duration              time.Duration `json:"duration"`
	TotalMessages         int64         `json:"total_messages"`
	MessagesSent          int64         `json:"messages_sent"`
	MessagesFailed        int64         `json:"messages_failed"`
	SuccessRatePercent    float64       `json:"success_rate_percent"`
	ThroughputMsgPerSec   float64       `json:"throughput_msg_per_sec"`
	TotalBytesSent        int64         `json:"total_bytes_sent"`
	AvgMessageSize        float64       `json:"avg_message_size"`
	ThroughputBytesPerSec float64       `json:"throughput_bytes_per_sec"`
	ThroughputMBPerSec    float64       `json:"throughput_mb_per_sec"`
	Batches               int           `json:"batches"`
	AvgBatchTime          time.Duration `json:"avg_batch_time"`
}

// PublishRecorder tracks publisher-side counters for a single run.
type PublishRecorder struct {
	mu         sync.Mutex
	start      time.Time
	end        time.Time
	sent       int64
	failed     int64
	bytes      int64
	batchTimes []time.Duration
	now        func() time.Time
}

func NewPublishRecorder() *PublishRecorder {
	return &PublishRecorder{now: time.Now}
}

func (r *PublishRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = r.now()
}

func (r *PublishRecorder) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.end = r.now()
}

func (r *PublishRecorder) RecordSuccess(size int) {
	r.mu.Lock()
	r.sent++
	r.bytes += int64(size)
	r.mu.Unlock()
	PublishedMessages.WithLabelValues("sent").Inc()
}

func (r *PublishRecorder) RecordFailure() {
	r.mu.Lock()
	r.failed++
	r.mu.Unlock()
	PublishedMessages.WithLabelValues("failed").Inc()
}

func (r *PublishRecorder) RecordBatch(d time.Duration) {
	r.mu.Lock()
	r.batchTimes = append(r.batchTimes, d)
	r.mu.Unlock()
	PublishBatchDuration.Observe(float64(d.Microseconds()) / 1000)
}

// Stats computes the current summary. Before Start it returns the zero value.
func (r *PublishRecorder) Stats() PublishStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.start.IsZero() {
		return PublishStats{}
	}
	end := r.end
	if end.IsZero() {
		end = r.now()
	}
	duration := end.Sub(r.start)
	secs := max(duration.Seconds(), 0.01)

	st := PublishStats{
		Duration:            duration,
		TotalMessages:       r.sent + r.failed,
		MessagesSent:        r.sent,
		MessagesFailed:      r.failed,
		SuccessRatePercent:  successRate(r.sent, r.failed),
		ThroughputMsgPerSec: float64(r.sent) / secs,
		TotalBytesSent:      r.bytes,
		AvgMessageSize:      float64(r.bytes) / float64(max(r.sent, 1)),
		Batches:             len(r.batchTimes),
	}
	st.ThroughputBytesPerSec = float64(r.bytes) / secs
	st.ThroughputMBPerSec = st.ThroughputBytesPerSec / (1024 * 1024)
	if len(r.batchTimes) > 0 {
		var total time.Duration
		for _, d := range r.batchTimes {
			total += d
		}
		st.AvgBatchTime = total / time.Duration(len(r.batchTimes))
	}
	return st
}
