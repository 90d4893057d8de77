package metrics

import (
	"sync"
	"time"
)

// IngestSnapshot is a point-in-time copy of the dispatcher counters.
type IngestSnapshot struct {
	MessagesProcessed    int64         `json:"messages_processed"`
	MessagesFailed       int64         `json:"messages_failed"`
	RelationshipsCreated int64         `json:"relationships_created"`
	TotalProcessingTime  time.Duration `json:"total_processing_time"`
	StartTime            time.Time     `json:"start_time"`
}

// Uptime is the time elapsed between StartTime and now.
func (s IngestSnapshot) Uptime(now time.Time) time.Duration {
	return now.Sub(s.StartTime)
}

// AvgProcessingTime divides the total processing time by the number of
// processed messages (at least one).
func (s IngestSnapshot) AvgProcessingTime() time.Duration {
	return s.TotalProcessingTime / time.Duration(max(s.MessagesProcessed, 1))
}

// Throughput returns processed messages per second of uptime, with uptime
// floored at one second.
func (s IngestSnapshot) Throughput(now time.Time) float64 {
	secs := max(s.Uptime(now).Seconds(), 1)
	return float64(s.MessagesProcessed) / secs
}

// SuccessRate returns processed / (processed + failed) as a percentage, or
// 0 when nothing has been seen.
func (s IngestSnapshot) SuccessRate() float64 {
	return successRate(s.MessagesProcessed, s.MessagesFailed)
}

// IngestRecorder owns the dispatcher counters. All mutation goes through
// one mutex and reads return copies.
type IngestRecorder struct {
	mu   sync.Mutex
	snap IngestSnapshot
}

// NewIngestRecorder starts the clock at now.
func NewIngestRecorder() *IngestRecorder {
	return &IngestRecorder{snap: IngestSnapshot{StartTime: time.Now()}}
}

// RecordSuccess counts one written envelope.
func (r *IngestRecorder) RecordSuccess(elapsed time.Duration, relationships int) {
	r.mu.Lock()
	r.snap.MessagesProcessed++
	r.snap.TotalProcessingTime += elapsed
	r.snap.RelationshipsCreated += int64(relationships)
	r.mu.Unlock()

	MessagesProcessed.Inc()
	RelationshipsCreated.Add(float64(relationships))
	ProcessingDuration.Observe(float64(elapsed.Microseconds()) / 1000)
}

// RecordFailure counts one failed envelope of the given error kind.
func (r *IngestRecorder) RecordFailure(elapsed time.Duration, kind string) {
	r.mu.Lock()
	r.snap.MessagesFailed++
	r.snap.TotalProcessingTime += elapsed
	r.mu.Unlock()

	if kind == "" {
		kind = "unknown"
	}
	MessagesFailed.WithLabelValues(kind).Inc()
	ProcessingDuration.Observe(float64(elapsed.Microseconds()) / 1000)
}

// Snapshot returns a copy of the current counters.
func (r *IngestRecorder) Snapshot() IngestSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

func successRate(ok, failed int64) float64 {
	total := ok + failed
	if total == 0 {
		return 0
	}
	return 100 * float64(ok) / float64(total)
}
