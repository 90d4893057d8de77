// Package transport carries clinical envelopes over NATS JetStream: an
// async publishing sink for the batch publisher and a durable pull
// consumer feeding the dispatcher.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
)

// ErrNotConnected is returned when the client has no live connection.
var ErrNotConnected = errors.New("nats: not connected")

// Client owns the NATS connection and its JetStream context.
type Client struct {
	conf   config.NATSConf
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// Connect dials conf.URL and initialises JetStream. It gives up when ctx
// is done before the connection is established.
func Connect(ctx context.Context, conf config.NATSConf, name string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{conf: conf, logger: logger}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		nc, err := nats.Connect(conf.URL, opts...)
		done <- result{nc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("nats connect %s: %w", conf.URL, r.err)
		}
		c.conn = r.conn
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, fmt.Errorf("nats connect %s: %w", conf.URL, ctx.Err())
	}

	js, err := jetstream.New(c.conn)
	if err != nil {
		c.conn.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	c.js = js
	logger.Info("connected to nats", "url", conf.URL, "stream", conf.Stream)
	return c, nil
}

// EnsureStream creates the configured stream, or updates it to capture the
// configured subject.
func (c *Client) EnsureStream(ctx context.Context) (jetstream.Stream, error) {
	if c.js == nil {
		return nil, ErrNotConnected
	}
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.conf.Stream,
		Subjects: []string{c.conf.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", c.conf.Stream, err)
	}
	return stream, nil
}

// JetStream returns the JetStream context.
func (c *Client) JetStream() jetstream.JetStream {
	return c.js
}

// Healthy reports whether the connection is currently up.
func (c *Client) Healthy() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drains pending publishes and subscriptions, then closes.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
		return err
	}
	return nil
}
