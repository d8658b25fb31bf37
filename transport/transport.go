// Package transport defines the pub/sub port the RPC core is built against.
//
// The broker is an external collaborator: it owns framing, delivery,
// acknowledgement and connection lifecycle. The core only needs four verbs:
// declare a topic, publish a tagged message, consume a topic via callback,
// and block for the next delivery with a timeout.
//
//	client ──Publish(server topic, corr-id, reply-to)──→ broker ──→ server Next()
//	client Next() ←── broker ←──Publish(reply topic, corr-id)────── server
//
// Next drives consumer callbacks on the caller's goroutine, so client wait
// loops and server receive loops suspend only inside Next, never inside a
// callback or a publish.
package transport

import (
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by Next when no delivery arrived within the timeout.
// Receive loops treat it as a tick, not a fault.
var ErrTimeout = errors.New("transport: no delivery within timeout")

// ErrClosed is returned by operations on a closed endpoint.
var ErrClosed = errors.New("transport: endpoint closed")

// Delivery is one inbound message with its broker metadata.
type Delivery struct {
	Body          []byte
	CorrelationID string
	ReplyTo       string

	// AckFunc acknowledges the delivery to the broker. Adapters without
	// acknowledgement (e.g. the in-memory bus) leave it nil.
	AckFunc func() error
}

// Ack acknowledges the delivery. Safe to call on deliveries without an
// acknowledgement hook.
func (d *Delivery) Ack() error {
	if d.AckFunc == nil {
		return nil
	}
	return d.AckFunc()
}

// DeliveryFunc handles one delivery. It runs synchronously inside Next.
type DeliveryFunc func(d Delivery)

// Transport is the broker port consumed by client and server.
//
// Publish must only be called by one goroutine at a time per endpoint: the
// outbound channel is not safe for concurrent writers. The server upholds
// this with its single-writer publisher; the client is single-threaded by
// construction.
type Transport interface {
	// Declare makes sure the named topic exists. Idempotent.
	Declare(topic string) error

	// Publish sends body to a topic, tagged with a correlation id and an
	// optional reply topic.
	Publish(topic string, body []byte, correlationID, replyTo string) error

	// Consume registers fn as the handler for deliveries on topic.
	// fn is invoked from inside Next.
	Consume(topic string, fn DeliveryFunc) error

	// Next blocks until one delivery has been dispatched to its consumer
	// callback, the timeout elapses (ErrTimeout), or the endpoint fails.
	// timeout <= 0 blocks indefinitely.
	Next(timeout time.Duration) error

	// Close tears the endpoint down. Blocked Next calls return ErrClosed.
	Close() error
}
