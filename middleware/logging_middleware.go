package middleware

import (
	"context"
	"time"

	"github.com/njatkinson/callme/logging"
	"github.com/njatkinson/callme/protocol"
)

// Logging records one line per request: method, duration and outcome.
// Successful calls log at debug, failed ones at warn.
func Logging(log logging.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *protocol.Request) *protocol.Response {
			start := time.Now()
			resp := next(ctx, req)
			l := log.WithField("method", req.Method).
				WithField("duration", time.Since(start)).
				WithField("status", resp.Status.String())
			if resp.Status == protocol.StatusError {
				l.WithField("error", resp.Error).Warn("request failed")
			} else {
				l.Debug("request handled")
			}
			return resp
		}
	}
}
