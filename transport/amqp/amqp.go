// Package amqp adapts a RabbitMQ broker to the transport port.
//
// Each topic maps onto the broker as a direct exchange and a queue that
// share the topic's name, bound with the empty routing key:
//
//	Publish("callme.server.s1", ...) ──→ exchange "callme.server.s1"
//	                                        └── queue "callme.server.s1" ──→ Consume
//
// Exchanges and queues are non-durable and auto-deleted, so the topology
// disappears with its last user and a restart starts clean. Publishing to
// a topic whose consumer never declared it leaves the message unroutable
// and the broker drops it, the same behavior the in-memory bus has.
//
// A Bus holds two channels on one connection. The consumer channel feeds
// pump goroutines that forward broker deliveries into the inbox served by
// Next. The publisher channel is reserved for Publish and is never touched
// by consumer-side code, so a single publishing goroutine maps onto a
// channel it has to itself. Acks are manual: a delivery is acked by
// whoever handles it, not on receipt.
package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/njatkinson/callme/transport"
)

// inboxCapacity bounds deliveries pumped off the broker but not yet
// handed to a Next caller.
const inboxCapacity = 64

// Config holds the broker connection parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string
	TLS      *tls.Config // nil for a plain TCP connection
}

// DefaultConfig returns the conventional local-broker parameters:
// guest/guest on localhost:5672, vhost "/".
func DefaultConfig() Config {
	return Config{
		Host:     "localhost",
		Port:     5672,
		User:     "guest",
		Password: "guest",
		VHost:    "/",
	}
}

// URI renders the config as an AMQP connection URI. User, password and
// vhost are percent-encoded; the default vhost "/" becomes "%2F".
func (c Config) URI() string {
	scheme := "amqp"
	if c.TLS != nil {
		scheme = "amqps"
	}
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s",
		scheme,
		url.UserPassword(c.User, c.Password).String(),
		c.Host, c.Port,
		url.PathEscape(vhost))
}

// Bus is a transport.Transport backed by a RabbitMQ connection.
type Bus struct {
	conn  *amqp091.Connection
	subCh *amqp091.Channel    // consumer-side channel, topology + Consume
	pubCh *amqp091.Channel    // publisher-side channel, Publish only
	fatal chan *amqp091.Error // signaled when the connection dies

	inbox chan inboxItem
	done  chan struct{}
	once  sync.Once
	pumps sync.WaitGroup

	mu        sync.Mutex
	exchanges map[string]bool // exchanges known to exist on the broker
	queues    map[string]bool // queues declared and bound by this endpoint
}

var _ transport.Transport = (*Bus)(nil)

// inboxItem pairs a broker delivery with the consumer callback that
// Next will run for it.
type inboxItem struct {
	fn transport.DeliveryFunc
	d  transport.Delivery
}

// Dial connects to the broker described by cfg. A failure here is fatal
// to the caller: no peer can be constructed without a connection.
func Dial(cfg Config) (*Bus, error) {
	var (
		conn *amqp091.Connection
		err  error
	)
	if cfg.TLS != nil {
		conn, err = amqp091.DialTLS(cfg.URI(), cfg.TLS)
	} else {
		conn, err = amqp091.Dial(cfg.URI())
	}
	if err != nil {
		return nil, errors.Wrapf(err, "connect to broker %s:%d", cfg.Host, cfg.Port)
	}
	return wrap(conn)
}

// DialURI connects to the broker at the given AMQP URI.
func DialURI(uri string) (*Bus, error) {
	conn, err := amqp091.Dial(uri)
	if err != nil {
		return nil, errors.Wrap(err, "connect to broker")
	}
	return wrap(conn)
}

func wrap(conn *amqp091.Connection) (*Bus, error) {
	subCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open consume channel")
	}
	pubCh, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "open publish channel")
	}
	return &Bus{
		conn:      conn,
		subCh:     subCh,
		pubCh:     pubCh,
		fatal:     conn.NotifyClose(make(chan *amqp091.Error, 1)),
		inbox:     make(chan inboxItem, inboxCapacity),
		done:      make(chan struct{}),
		exchanges: make(map[string]bool),
		queues:    make(map[string]bool),
	}, nil
}

// Declare sets up the exchange+queue+binding triple for a topic.
// Idempotent: repeat calls for an already declared topic are free.
func (b *Bus) Declare(topic string) error {
	if b.closed() {
		return transport.ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queues[topic] {
		return nil
	}
	if err := declareExchange(b.subCh, topic); err != nil {
		return err
	}
	b.exchanges[topic] = true
	if _, err := b.subCh.QueueDeclare(topic, false, true, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare queue %q", topic)
	}
	if err := b.subCh.QueueBind(topic, "", topic, false, nil); err != nil {
		return errors.Wrapf(err, "bind queue %q", topic)
	}
	b.queues[topic] = true
	return nil
}

func declareExchange(ch *amqp091.Channel, topic string) error {
	err := ch.ExchangeDeclare(topic, "direct", false, true, false, false, nil)
	return errors.Wrapf(err, "declare exchange %q", topic)
}

// Consume declares the topic and starts a broker subscription on its
// queue. Deliveries are pumped into the inbox and dispatched to fn by
// Next; they stay unacked until the callback acks them.
func (b *Bus) Consume(topic string, fn transport.DeliveryFunc) error {
	if err := b.Declare(topic); err != nil {
		return err
	}
	deliveries, err := b.subCh.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "consume %q", topic)
	}
	b.pumps.Add(1)
	go func() {
		defer b.pumps.Done()
		for d := range deliveries {
			item := inboxItem{
				fn: fn,
				d: transport.Delivery{
					Body:          d.Body,
					CorrelationID: d.CorrelationId,
					ReplyTo:       d.ReplyTo,
					AckFunc:       func() error { return d.Ack(false) },
				},
			}
			select {
			case b.inbox <- item:
			case <-b.done:
				return
			}
		}
	}()
	return nil
}

// Publish sends body to a topic's exchange. The target exchange is
// declared on first use so that publishing before the consuming peer is
// up does not fault the channel; the broker then drops the unroutable
// message, which is the wanted at-most-once behavior.
func (b *Bus) Publish(topic string, body []byte, correlationID, replyTo string) error {
	if b.closed() {
		return transport.ErrClosed
	}
	b.mu.Lock()
	if !b.exchanges[topic] {
		if err := declareExchange(b.pubCh, topic); err != nil {
			b.mu.Unlock()
			return err
		}
		b.exchanges[topic] = true
	}
	b.mu.Unlock()

	pub := amqp091.Publishing{
		ContentType:   "application/octet-stream",
		DeliveryMode:  amqp091.Transient,
		CorrelationId: correlationID,
		ReplyTo:       replyTo,
		Body:          body,
	}
	err := b.pubCh.PublishWithContext(context.Background(), topic, "", false, false, pub)
	return errors.Wrapf(err, "publish to %q", topic)
}

// Next waits up to timeout for one pumped delivery and runs its callback
// on the calling goroutine. timeout <= 0 blocks until a delivery, Close,
// or a connection fault. Returns transport.ErrTimeout when nothing
// arrived in time and transport.ErrClosed after Close; a broker-initiated
// connection loss surfaces as a wrapped fatal error.
func (b *Bus) Next(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case item := <-b.inbox:
			item.fn(item.d)
			return nil
		case e, ok := <-b.fatal:
			return fatalErr(e, ok)
		case <-b.done:
			return transport.ErrClosed
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case item := <-b.inbox:
		item.fn(item.d)
		return nil
	case <-timer.C:
		return transport.ErrTimeout
	case e, ok := <-b.fatal:
		return fatalErr(e, ok)
	case <-b.done:
		return transport.ErrClosed
	}
}

func fatalErr(e *amqp091.Error, ok bool) error {
	// A closed notify channel without a value is the local Close racing
	// ahead of the done channel, not a broker fault.
	if !ok || e == nil {
		return transport.ErrClosed
	}
	return errors.Wrap(e, "broker connection lost")
}

// Close tears the connection down. Consumer streams end, pump goroutines
// drain out, and every later operation returns transport.ErrClosed.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		// Closing the connection closes both channels and ends the
		// delivery streams the pumps range over.
		err = b.conn.Close()
		b.pumps.Wait()
	})
	return err
}

func (b *Bus) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
