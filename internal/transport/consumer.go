package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/gyaneshwarpardhi/clinigraph/internal/handler"
)

// Dispatcher is the ingestion entry point the consumer feeds.
type Dispatcher interface {
	Dispatch(ctx context.Context, raw any) (*handler.WriteResult, error)
}

// Consumer pulls from a durable JetStream consumer and dispatches each
// message. Successful writes are acked; every failure is nacked so the
// server redelivers.
type Consumer struct {
	client     *Client
	dispatcher Dispatcher
	logger     *slog.Logger

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewConsumer(c *Client, d Dispatcher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{client: c, dispatcher: d, logger: logger}
}

// Start creates (or updates) the durable consumer and begins pulling in
// the background. Stop ends the loop.
func (c *Consumer) Start(ctx context.Context) error {
	conf := c.client.conf
	if _, err := c.client.EnsureStream(ctx); err != nil {
		return err
	}
	cons, err := c.client.JetStream().CreateOrUpdateConsumer(ctx, conf.Stream, jetstream.ConsumerConfig{
		Durable:       conf.Durable,
		FilterSubject: conf.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       conf.AckWait(),
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", conf.Durable, err)
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.loop(ctx, cons, max(conf.FetchBatch, 1), conf.FetchWait())
	}()
	c.logger.Info("pull consumer started", "stream", conf.Stream, "durable", conf.Durable, "subject", conf.Subject)
	return nil
}

func (c *Consumer) loop(ctx context.Context, cons jetstream.Consumer, batch int, wait time.Duration) {
	for ctx.Err() == nil {
		msgs, err := cons.Fetch(batch, jetstream.FetchMaxWait(wait))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("fetch failed", "err", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		var wg sync.WaitGroup
		for msg := range msgs.Messages() {
			wg.Add(1)
			go func(m jetstream.Msg) {
				defer wg.Done()
				c.handle(ctx, m)
			}(msg)
		}
		wg.Wait()
		if err := msgs.Error(); err != nil && !errors.Is(err, jetstream.ErrNoMessages) && ctx.Err() == nil {
			c.logger.Debug("fetch batch ended", "err", err)
		}
	}
}

// handle dispatches one message and settles it. The dispatch uses a
// context that outlives Stop so in-flight writes are not abandoned.
func (c *Consumer) handle(ctx context.Context, m jetstream.Msg) {
	res, err := c.dispatcher.Dispatch(context.WithoutCancel(ctx), m.Data())
	if err != nil {
		c.logger.Error("message processing failed", "subject", m.Subject(), "err", err)
		if nerr := m.Nak(); nerr != nil {
			c.logger.Warn("nak failed", "err", nerr)
		}
		return
	}
	if aerr := m.Ack(); aerr != nil {
		c.logger.Warn("ack failed", "entity_id", res.EntityID, "err", aerr)
		return
	}
	c.logger.Debug("message processed",
		"entity_type", res.Type,
		"entity_id", res.EntityID,
		"relationships_created", res.RelationshipsCreated,
		"processing_time_ms", res.ProcessingTimeMs,
	)
}

// Stop ends the pull loop and waits for the current batch to settle.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.done.Wait()
}
