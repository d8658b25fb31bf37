package client

import "strings"

// Method is a bound, possibly dotted method path under construction.
// Values are immutable: every extension returns a new Method, so a partial
// path can be kept and extended into different calls:
//
//	calc := c.Method("calc")
//	sum, err := calc.Method("add").Invoke(1, 2)     // calls "calc.add"
//	prod, err := calc.Method("mul").Invoke(3, 4)    // calls "calc.mul"
//
// The path is only an accumulated name; nothing checks that the server
// knows it. An unknown path surfaces as a RemoteError when invoked.
type Method struct {
	client *Client
	path   string
}

// Method starts a new path on the client from the given segments.
func (c *Client) Method(segments ...string) *Method {
	return &Method{client: c, path: joinPath("", segments)}
}

// Method extends the path with further segments.
func (m *Method) Method(segments ...string) *Method {
	return &Method{client: m.client, path: joinPath(m.path, segments)}
}

// Path returns the accumulated dot-joined method name.
func (m *Method) Path() string {
	return m.path
}

// Invoke sends the accumulated path with the given positional arguments and
// blocks for the result, exactly like Client.Call.
func (m *Method) Invoke(args ...interface{}) (interface{}, error) {
	return m.client.Call(m.path, args...)
}

func joinPath(base string, segments []string) string {
	parts := make([]string, 0, len(segments)+1)
	if base != "" {
		parts = append(parts, base)
	}
	parts = append(parts, segments...)
	return strings.Join(parts, ".")
}
