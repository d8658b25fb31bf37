package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njatkinson/callme/logging"
	"github.com/njatkinson/callme/protocol"
)

// echoHandler answers immediately with an OK response.
func echoHandler(ctx context.Context, req *protocol.Request) *protocol.Response {
	return protocol.NewResponse("ok")
}

// slowHandler takes 200ms to answer.
func slowHandler(ctx context.Context, req *protocol.Request) *protocol.Response {
	time.Sleep(200 * time.Millisecond)
	return protocol.NewResponse("ok")
}

func TestLogging(t *testing.T) {
	handler := Logging(logging.Discard())(echoHandler)

	resp := handler(context.Background(), &protocol.Request{Method: "calc.add"})
	require.NotNil(t, resp)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, "ok", resp.Result)
}

func TestLoggingError(t *testing.T) {
	failing := func(ctx context.Context, req *protocol.Request) *protocol.Response {
		return protocol.NewErrorResponse("boom")
	}
	handler := Logging(logging.Discard())(failing)

	resp := handler(context.Background(), &protocol.Request{Method: "calc.add"})
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "boom", resp.Error)
}

func TestTimeoutPass(t *testing.T) {
	// deadline 500ms, the handler is fast: response passes through
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), &protocol.Request{Method: "calc.add"})
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestTimeoutExceeded(t *testing.T) {
	// deadline 50ms, the handler needs 200ms: caller gets an error response
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	resp := handler(context.Background(), &protocol.Request{Method: "calc.add"})
	require.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "request timed out", resp.Error)
}

func TestRateLimit(t *testing.T) {
	// rate=1/s, burst=2 → first 2 pass immediately, the 3rd is rejected
	handler := RateLimit(1, 2)(echoHandler)
	req := &protocol.Request{Method: "calc.add"}

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), req)
		require.Equalf(t, protocol.StatusOK, resp.Status, "request %d should pass", i)
	}

	resp := handler(context.Background(), req)
	require.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, "rate limit exceeded", resp.Error)
}

func TestChain(t *testing.T) {
	// requests must pass through a Logging+Timeout chain unharmed
	chained := Chain(Logging(logging.Discard()), Timeout(500*time.Millisecond))
	handler := chained(echoHandler)

	resp := handler(context.Background(), &protocol.Request{Method: "calc.add"})
	require.NotNil(t, resp)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}

func TestChainOrder(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *protocol.Request) *protocol.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	handler := Chain(tag("outer"), tag("inner"))(echoHandler)
	handler(context.Background(), &protocol.Request{Method: "x"})

	// the first middleware in the chain runs first
	assert.Equal(t, []string{"outer", "inner"}, order)
}
