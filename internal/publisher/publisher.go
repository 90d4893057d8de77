// Package publisher pushes a clinical dataset onto the ingestion subject in
// concurrent batches and measures the run.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
	"github.com/gyaneshwarpardhi/clinigraph/internal/transport"
)

// Sink accepts messages for asynchronous delivery.
type Sink interface {
	PublishAsync(ctx context.Context, m transport.Message) (transport.Ack, error)
}

// Progress is reported every ProgressEvery completed batches and after the
// last one.
type Progress struct {
	CompletedBatches    int
	TotalBatches        int
	Sent                int64
	Failed              int64
	ThroughputMsgPerSec float64
}

// Percent is the share of batches completed.
func (p Progress) Percent() float64 {
	if p.TotalBatches == 0 {
		return 100
	}
	return 100 * float64(p.CompletedBatches) / float64(p.TotalBatches)
}

type Publisher struct {
	sink       Sink
	conf       config.PublisherConf
	logger     *slog.Logger
	onProgress func(Progress)
}

func New(sink Sink, conf config.PublisherConf, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{sink: sink, conf: conf, logger: logger}
}

// OnProgress registers fn to observe progress. It must not block.
func (p *Publisher) OnProgress(fn func(Progress)) {
	p.onProgress = fn
}

// PublishDataset splits records into contiguous batches of batchSize (the
// last may be shorter) and publishes them with at most workers batches in
// flight. Every record ends up counted as sent or failed. A non-nil error
// is returned only when ctx ended the run early.
func (p *Publisher) PublishDataset(ctx context.Context, records []Record, batchSize, workers int) (*metrics.PublishStats, error) {
	if batchSize <= 0 {
		batchSize = max(p.conf.BatchSize, 1)
	}
	if workers <= 0 {
		workers = max(p.conf.Workers, 1)
	}
	batches := split(records, batchSize)
	runID := uuid.NewString()

	rec := metrics.NewPublishRecorder()
	rec.Start()

	var (
		mu        sync.Mutex
		completed int
	)
	done := func() {
		mu.Lock()
		defer mu.Unlock()
		completed++
		every := max(p.conf.ProgressEvery, 1)
		if p.onProgress == nil || (completed%every != 0 && completed != len(batches)) {
			return
		}
		st := rec.Stats()
		p.onProgress(Progress{
			CompletedBatches:    completed,
			TotalBatches:        len(batches),
			Sent:                st.MessagesSent,
			Failed:              st.MessagesFailed,
			ThroughputMsgPerSec: st.ThroughputMsgPerSec,
		})
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, batch := range batches {
		g.Go(func() error {
			defer done()
			if err := ctx.Err(); err != nil {
				for range batch {
					rec.RecordFailure()
				}
				return err
			}
			p.publishBatch(ctx, runID, i, batch, rec)
			return nil
		})
	}
	err := g.Wait()
	rec.Finish()

	st := rec.Stats()
	p.logger.Info("dataset published",
		"run_id", runID,
		"total_messages", st.TotalMessages,
		"messages_sent", st.MessagesSent,
		"messages_failed", st.MessagesFailed,
		"batches", st.Batches,
		"throughput_msg_per_sec", st.ThroughputMsgPerSec,
	)
	return &st, err
}

// publishBatch submits every record of the batch, then waits on each ack
// with its own timeout. A failed record never aborts the batch.
func (p *Publisher) publishBatch(ctx context.Context, runID string, batchID int, batch []Record, rec *metrics.PublishRecorder) {
	start := time.Now()

	type pending struct {
		ack      transport.Ack
		size     int
		entityID string
	}
	acks := make([]pending, 0, len(batch))
	var failed int

	for _, r := range batch {
		data, err := json.Marshal(r)
		if err != nil {
			rec.RecordFailure()
			failed++
			p.logger.Error("record encode failed", "batch_id", batchID, "entity_id", r.EntityID(), "err", err)
			continue
		}
		ack, err := p.sink.PublishAsync(ctx, transport.Message{
			Data: data,
			Attributes: map[string]string{
				"message_type": r.MessageType(),
				"entity_id":    r.EntityID(),
				"batch_id":     strconv.Itoa(batchID),
				"run_id":       runID,
			},
		})
		if err != nil {
			rec.RecordFailure()
			failed++
			p.logger.Error("publish failed", "batch_id", batchID, "entity_id", r.EntityID(), "err", err)
			continue
		}
		acks = append(acks, pending{ack: ack, size: len(data), entityID: r.EntityID()})
	}

	for _, pa := range acks {
		if err := p.wait(ctx, pa.ack, pa.entityID); err != nil {
			rec.RecordFailure()
			failed++
			p.logger.Error("publish not acknowledged", "batch_id", batchID, "entity_id", pa.entityID, "err", err)
			continue
		}
		rec.RecordSuccess(pa.size)
	}

	elapsed := time.Since(start)
	rec.RecordBatch(elapsed)
	p.logger.Debug("batch completed",
		"batch_id", batchID,
		"success", len(batch)-failed,
		"failed", failed,
		"batch_time_ms", float64(elapsed.Microseconds())/1000,
	)
}

func (p *Publisher) wait(ctx context.Context, ack transport.Ack, entityID string) error {
	timeout := p.conf.PublishTimeout()
	if timeout <= 0 {
		return ack.Wait(ctx)
	}
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := ack.Wait(wctx)
	if err != nil && wctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return event.NewError(event.PublishTimeout, entityID, fmt.Errorf("no ack within %v", timeout))
	}
	return err
}

func split(records []Record, size int) [][]Record {
	out := make([][]Record, 0, (len(records)+size-1)/size)
	for i := 0; i < len(records); i += size {
		out = append(out, records[i:min(i+size, len(records))])
	}
	return out
}
