package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/njatkinson/callme/protocol"
)

// RateLimit bounds request throughput with a token bucket: r tokens per
// second with a burst reserve. Requests beyond the limit are answered with
// an error response instead of being dropped, so callers fail fast rather
// than time out.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) *protocol.Response {
			if !limiter.Allow() {
				return protocol.NewErrorResponse("rate limit exceeded")
			}
			return next(ctx, req)
		}
	}
}
