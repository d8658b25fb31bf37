package transport

import (
	"sync"
	"time"
)

// inboxCapacity bounds each endpoint's delivery backlog. A full inbox blocks
// publishers: backpressure instead of unbounded growth.
const inboxCapacity = 64

// MemBus is a process-local broker for tests and single-process wiring.
// Topics have queue semantics: competing consumers receive deliveries
// round-robin, and publishing to a topic with no consumer drops the message,
// like an unroutable AMQP publish.
type MemBus struct {
	mu     sync.Mutex
	topics map[string]*memTopic
}

type memTopic struct {
	subs []memSub
	next int // round-robin cursor
}

type memSub struct {
	ep *MemEndpoint
	fn DeliveryFunc
}

func NewMemBus() *MemBus {
	return &MemBus{topics: make(map[string]*memTopic)}
}

// Endpoint creates a new peer attached to the bus. Each client and each
// server gets its own endpoint, mirroring one broker connection apiece.
func (b *MemBus) Endpoint() *MemEndpoint {
	return &MemEndpoint{
		bus:   b,
		inbox: make(chan inboxItem, inboxCapacity),
		done:  make(chan struct{}),
	}
}

func (b *MemBus) declare(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = &memTopic{}
	}
}

func (b *MemBus) consume(topic string, ep *MemEndpoint, fn DeliveryFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[topic]
	if !ok {
		t = &memTopic{}
		b.topics[topic] = t
	}
	t.subs = append(t.subs, memSub{ep: ep, fn: fn})
}

// route hands the delivery to one consumer of the topic. Returns with the
// message dropped when the topic has no consumers or the chosen consumer
// closed before accepting it.
func (b *MemBus) route(topic string, d Delivery) {
	b.mu.Lock()
	t, ok := b.topics[topic]
	if !ok || len(t.subs) == 0 {
		b.mu.Unlock()
		return
	}
	sub := t.subs[t.next%len(t.subs)]
	t.next++
	b.mu.Unlock()

	select {
	case sub.ep.inbox <- inboxItem{fn: sub.fn, d: d}:
	case <-sub.ep.done:
	}
}

func (b *MemBus) dropEndpoint(ep *MemEndpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range b.topics {
		kept := t.subs[:0]
		for _, sub := range t.subs {
			if sub.ep != ep {
				kept = append(kept, sub)
			}
		}
		t.subs = kept
	}
}

type inboxItem struct {
	fn DeliveryFunc
	d  Delivery
}

// MemEndpoint is one peer's view of the bus; it implements Transport.
type MemEndpoint struct {
	bus       *MemBus
	inbox     chan inboxItem
	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*MemEndpoint)(nil)

func (ep *MemEndpoint) Declare(topic string) error {
	if ep.closed() {
		return ErrClosed
	}
	ep.bus.declare(topic)
	return nil
}

func (ep *MemEndpoint) Consume(topic string, fn DeliveryFunc) error {
	if ep.closed() {
		return ErrClosed
	}
	ep.bus.consume(topic, ep, fn)
	return nil
}

func (ep *MemEndpoint) Publish(topic string, body []byte, correlationID, replyTo string) error {
	if ep.closed() {
		return ErrClosed
	}
	ep.bus.route(topic, Delivery{
		Body:          body,
		CorrelationID: correlationID,
		ReplyTo:       replyTo,
	})
	return nil
}

func (ep *MemEndpoint) Next(timeout time.Duration) error {
	if timeout <= 0 {
		select {
		case it := <-ep.inbox:
			it.fn(it.d)
			return nil
		case <-ep.done:
			return ErrClosed
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case it := <-ep.inbox:
		it.fn(it.d)
		return nil
	case <-timer.C:
		return ErrTimeout
	case <-ep.done:
		return ErrClosed
	}
}

func (ep *MemEndpoint) Close() error {
	ep.closeOnce.Do(func() {
		close(ep.done)
		ep.bus.dropEndpoint(ep)
	})
	return nil
}

func (ep *MemEndpoint) closed() bool {
	select {
	case <-ep.done:
		return true
	default:
		return false
	}
}
