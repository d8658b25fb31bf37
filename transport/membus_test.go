package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemBusDeliver(t *testing.T) {
	bus := NewMemBus()
	pub := bus.Endpoint()
	sub := bus.Endpoint()

	require.NoError(t, sub.Declare("greetings"))
	var got Delivery
	require.NoError(t, sub.Consume("greetings", func(d Delivery) { got = d }))

	require.NoError(t, pub.Publish("greetings", []byte("hello"), "corr-1", "reply-1"))
	require.NoError(t, sub.Next(time.Second))

	assert.Equal(t, "hello", string(got.Body))
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, "reply-1", got.ReplyTo)
	assert.NoError(t, got.Ack()) // ack is a no-op on the mem bus
}

func TestMemBusNextTimeout(t *testing.T) {
	bus := NewMemBus()
	ep := bus.Endpoint()
	require.NoError(t, ep.Consume("empty", func(Delivery) {}))

	start := time.Now()
	err := ep.Next(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemBusUnroutableDropped(t *testing.T) {
	bus := NewMemBus()
	pub := bus.Endpoint()

	// nobody consumes "void": publish must not block or fail
	require.NoError(t, pub.Publish("void", []byte("lost"), "c", ""))
}

func TestMemBusRoundRobin(t *testing.T) {
	bus := NewMemBus()
	pub := bus.Endpoint()

	counts := make(map[string]int)
	mk := func(name string) *MemEndpoint {
		ep := bus.Endpoint()
		require.NoError(t, ep.Consume("work", func(Delivery) { counts[name]++ }))
		return ep
	}
	a, b := mk("a"), mk("b")

	for i := 0; i < 4; i++ {
		require.NoError(t, pub.Publish("work", []byte("job"), "", ""))
	}
	// competing consumers: two deliveries each
	require.NoError(t, a.Next(time.Second))
	require.NoError(t, b.Next(time.Second))
	require.NoError(t, a.Next(time.Second))
	require.NoError(t, b.Next(time.Second))

	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 2, counts["b"])
}

func TestMemBusClose(t *testing.T) {
	bus := NewMemBus()
	ep := bus.Endpoint()
	require.NoError(t, ep.Consume("x", func(Delivery) {}))

	// close from another goroutine unblocks a pending Next
	errCh := make(chan error, 1)
	go func() { errCh <- ep.Next(0) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ep.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}

	assert.ErrorIs(t, ep.Publish("x", nil, "", ""), ErrClosed)
	assert.ErrorIs(t, ep.Consume("y", func(Delivery) {}), ErrClosed)
	assert.NoError(t, ep.Close()) // idempotent
}

func TestMemBusCloseDropsConsumer(t *testing.T) {
	bus := NewMemBus()
	pub := bus.Endpoint()
	gone := bus.Endpoint()
	require.NoError(t, gone.Consume("q", func(Delivery) {}))
	require.NoError(t, gone.Close())

	// the only consumer is gone: delivery is dropped, publish stays non-blocking
	for i := 0; i < inboxCapacity+8; i++ {
		require.NoError(t, pub.Publish("q", []byte("x"), "", ""))
	}
}
