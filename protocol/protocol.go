// Package protocol defines the messages exchanged between client and server.
//
// Request and Response are the "envelope" for every call. They get serialized
// by the codec layer and handed to the transport as an opaque body; the broker
// carries the correlation id and reply topic out-of-band, so the envelope only
// holds what the application layer needs.
package protocol

// Status distinguishes the two Response variants.
type Status uint8

const (
	// StatusOK marks a response carrying the handler's return value.
	StatusOK Status = 0
	// StatusError marks a response carrying a failure description.
	StatusError Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Request carries a single invocation from client to server.
//
// Method may be a dotted path (e.g. "calc.add"); the server routes on the
// exact string. Args are positional and opaque; with the JSON codec, numbers
// arrive at the handler as float64.
type Request struct {
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// Valid reports whether the request is well-formed enough to route.
// Deliveries that fail this check are dropped without a response.
func (r *Request) Valid() bool {
	return r != nil && r.Method != ""
}

// Response carries the outcome of one Request back to the caller.
//
//   - StatusOK:    Result holds the handler's return value, Error is empty.
//   - StatusError: Error holds the failure description, Result is nil.
type Response struct {
	Status Status      `json:"status"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// NewResponse wraps a handler return value into an OK response.
func NewResponse(result interface{}) *Response {
	return &Response{Status: StatusOK, Result: result}
}

// NewErrorResponse wraps a failure description into an ERROR response.
func NewErrorResponse(desc string) *Response {
	return &Response{Status: StatusError, Error: desc}
}
