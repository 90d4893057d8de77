package transport

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Message is one record ready to publish. Attributes travel as headers.
type Message struct {
	Data       []byte
	Attributes map[string]string
}

// Ack is the pending acknowledgement of an async publish.
type Ack interface {
	// Wait blocks until the server acknowledged the message, the publish
	// failed, or ctx is done.
	Wait(ctx context.Context) error
}

// Sink publishes messages asynchronously to one JetStream subject.
type Sink struct {
	js      jetstream.JetStream
	subject string
}

// NewSink returns a Sink publishing to subject.
func NewSink(c *Client, subject string) *Sink {
	return &Sink{js: c.JetStream(), subject: subject}
}

// PublishAsync sends m without waiting for the server. The returned Ack
// resolves once JetStream stored the message.
func (s *Sink) PublishAsync(_ context.Context, m Message) (Ack, error) {
	msg := nats.NewMsg(s.subject)
	msg.Data = m.Data
	for k, v := range m.Attributes {
		msg.Header.Set(k, v)
	}
	f, err := s.js.PublishMsgAsync(msg)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", s.subject, err)
	}
	return futureAck{f}, nil
}

type futureAck struct {
	f jetstream.PubAckFuture
}

func (a futureAck) Wait(ctx context.Context) error {
	select {
	case <-a.f.Ok():
		return nil
	case err := <-a.f.Err():
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
