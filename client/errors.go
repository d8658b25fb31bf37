package client

import "github.com/pkg/errors"

// ErrTimeout is returned by Call when no matching response arrived within
// the configured timeout. The call is abandoned; a reply that shows up later
// is discarded by the correlation check.
var ErrTimeout = errors.New("rpc request timeout")

// ErrCallInFlight is returned when Call is entered while another call on the
// same client is still waiting for its reply. A client supports exactly one
// outstanding call; use one client per concurrent caller.
var ErrCallInFlight = errors.New("another call is already in flight on this client")

// RemoteError reports that the server executed the request and failed:
// the handler returned an error, panicked, or the method is not registered.
// The server process itself keeps running.
type RemoteError struct {
	// Desc is the failure description produced on the server.
	Desc string
}

func (e *RemoteError) Error() string {
	return "remote execution error: " + e.Desc
}
