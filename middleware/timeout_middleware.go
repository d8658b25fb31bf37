package middleware

import (
	"context"
	"time"

	"github.com/njatkinson/callme/protocol"
)

// Timeout bounds how long a caller waits for a response. When the deadline
// passes, the caller gets an error response immediately; the handler
// goroutine is not cancelled and still runs to completion, its late result
// discarded.
func Timeout(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) *protocol.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *protocol.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return protocol.NewErrorResponse("request timed out")
			}
		}
	}
}
