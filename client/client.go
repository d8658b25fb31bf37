// Package client implements the calling side of the RPC bridge: it turns a
// blocking method call into a published request and a wait for the
// correlated response.
//
// Call flow:
//
//	Call("calc.add", 1, 2)
//	  → encode Request → Publish(server topic, correlation id, reply topic)
//	  → poll Next(tick) until the reply with the matching correlation id
//	    arrives, the timeout lapses, or the transport faults
//
// A Client drives its transport from the calling goroutine only (the reply
// callback runs inside Next), so one client supports exactly one outstanding
// call. A second concurrent Call fails with ErrCallInFlight; callers that
// want parallel calls create one client each, which costs one reply queue
// apiece.
package client

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/njatkinson/callme/codec"
	"github.com/njatkinson/callme/loadbalance"
	"github.com/njatkinson/callme/logging"
	"github.com/njatkinson/callme/protocol"
	"github.com/njatkinson/callme/registry"
	"github.com/njatkinson/callme/transport"
)

// defaultPollInterval is how long one Next tick blocks while waiting for a
// reply. The call timeout is checked once per tick, so the tick also bounds
// timeout overshoot.
const defaultPollInterval = time.Second

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the default call timeout. Zero or negative means wait
// indefinitely. Can be overridden per target with UseTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithPollInterval sets the wait-loop tick. Shorter ticks give snappier
// timeout detection at the cost of more wakeups.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// WithCodec sets the envelope codec. It must match the server's.
func WithCodec(cd codec.Codec) Option {
	return func(c *Client) { c.codec = cd }
}

// WithLogger injects a structured logger. The default discards everything.
func WithLogger(log logging.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithDiscovery resolves the target server through a registry: each call
// discovers the instances of service and lets the balancer pick one.
// A non-empty server id (from New or UseServer) pins the target and
// bypasses discovery.
func WithDiscovery(reg registry.Registry, service string, bal loadbalance.Balancer) Option {
	return func(c *Client) {
		c.disc = &discovery{registry: reg, service: service, balancer: bal}
	}
}

type discovery struct {
	registry registry.Registry
	service  string
	balancer loadbalance.Balancer
}

// pendingCall is the correlation state of the one call in flight.
type pendingCall struct {
	correlationID string
	received      bool
	resp          *protocol.Response
}

// Client invokes named methods on a remote server and blocks for the result.
type Client struct {
	transport    transport.Transport
	codec        codec.Codec
	log          logging.Logger
	pollInterval time.Duration

	clientID   string
	replyTopic string

	disc *discovery

	mu       sync.Mutex // guards serverID, timeout and the in-flight flag
	serverID string
	timeout  time.Duration
	inFlight bool

	// pending is only touched by the goroutine driving the current call:
	// the reply callback runs inside Next on that same goroutine, and the
	// in-flight flag keeps a second goroutine out of Call entirely.
	pending pendingCall
}

// New creates a client that sends requests to the server with the given id.
// It generates a private reply topic, declares it, and subscribes to it;
// the reply queue must exist before the first request goes out, or the
// response would be unroutable and lost.
//
// The client takes ownership of the transport endpoint; Close releases it.
// With WithDiscovery configured, serverID may be empty and the target is
// resolved per call.
func New(t transport.Transport, serverID string, opts ...Option) (*Client, error) {
	c := &Client{
		transport:    t,
		codec:        codec.GetCodec(codec.CodecTypeJSON),
		log:          logging.Discard(),
		pollInterval: defaultPollInterval,
		clientID:     uuid.NewString(),
		serverID:     serverID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.replyTopic = protocol.ReplyTopic(c.clientID)

	if err := t.Declare(c.replyTopic); err != nil {
		return nil, errors.Wrapf(err, "declare reply topic %q", c.replyTopic)
	}
	if err := t.Consume(c.replyTopic, c.onReply); err != nil {
		return nil, errors.Wrapf(err, "consume reply topic %q", c.replyTopic)
	}
	c.log.WithField("client_id", c.clientID).Debug("client ready")
	return c, nil
}

// UseServer retargets subsequent calls at another server id and returns the
// client for chaining:
//
//	result, err := c.UseServer("backup").Call("status")
//
// A call already in flight keeps the target it started with. Setting an
// empty id re-enables discovery if configured.
func (c *Client) UseServer(serverID string) *Client {
	c.mu.Lock()
	c.serverID = serverID
	c.mu.Unlock()
	return c
}

// UseTimeout overrides the call timeout for subsequent calls and returns the
// client for chaining. Zero or negative waits indefinitely.
func (c *Client) UseTimeout(d time.Duration) *Client {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
	return c
}

// Call invokes the named method, possibly a dotted path like "calc.add",
// with positional arguments and blocks until the response arrives or the
// timeout lapses.
//
// The result is the handler's return value as decoded by the codec (numbers
// arrive as float64 under JSON). Failure modes: ErrTimeout when no response
// arrived in time, *RemoteError when the server reports the handler failed
// or the method is unknown, ErrCallInFlight when this client is already
// waiting on another call, and wrapped transport faults for everything
// else.
func (c *Client) Call(method string, args ...interface{}) (interface{}, error) {
	if method == "" {
		return nil, errors.New("empty method name")
	}

	// Snapshot target and timeout; later UseServer/UseTimeout calls must not
	// affect a call already in flight.
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return nil, ErrCallInFlight
	}
	c.inFlight = true
	serverID := c.serverID
	timeout := c.timeout
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if serverID == "" {
		var err error
		if serverID, err = c.resolveTarget(); err != nil {
			return nil, err
		}
	}

	body, err := c.codec.Encode(&protocol.Request{Method: method, Args: args})
	if err != nil {
		return nil, errors.Wrapf(err, "encode request %q", method)
	}

	// Fresh correlation state. The id is new for every attempt, so a stale
	// reply to an abandoned call can never match.
	c.pending = pendingCall{correlationID: uuid.NewString()}

	log := c.log.WithField("method", method).
		WithField("server_id", serverID).
		WithField("correlation_id", c.pending.correlationID)
	log.Debug("publishing request")

	topic := protocol.ServerTopic(serverID)
	if err := c.transport.Publish(topic, body, c.pending.correlationID, c.replyTopic); err != nil {
		return nil, errors.Wrapf(err, "publish request to %q", topic)
	}

	resp, err := c.awaitReply(timeout)
	if err != nil {
		return nil, err
	}

	if resp.Status == protocol.StatusError {
		log.WithField("error", resp.Error).Debug("remote execution failed")
		return nil, &RemoteError{Desc: resp.Error}
	}
	log.Debug("response received")
	return resp.Result, nil
}

// awaitReply polls the transport until onReply accepted the matching
// response or the timeout lapsed. The deadline is checked once per tick
// (whether the tick ended in a delivery or ErrTimeout), so overshoot is
// bounded by one poll interval.
func (c *Client) awaitReply(timeout time.Duration) (*protocol.Response, error) {
	start := time.Now()
	for !c.pending.received {
		err := c.transport.Next(c.pollInterval)
		if err != nil && !errors.Is(err, transport.ErrTimeout) {
			return nil, errors.Wrap(err, "await reply")
		}
		if timeout > 0 && !c.pending.received && time.Since(start) > timeout {
			return nil, ErrTimeout
		}
	}
	return c.pending.resp, nil
}

// onReply is the consumer callback for the private reply topic. It runs
// inside Next on the goroutine blocked in awaitReply.
func (c *Client) onReply(d transport.Delivery) {
	if d.CorrelationID != c.pending.correlationID || c.pending.received {
		// A reply for an abandoned or foreign call: no ack, no state change.
		c.log.WithField("correlation_id", d.CorrelationID).
			Debug("discarding unmatched reply")
		return
	}

	var resp protocol.Response
	if err := c.codec.Decode(d.Body, &resp); err != nil {
		c.log.WithError(err).Warn("dropping undecodable reply")
		return
	}

	if err := d.Ack(); err != nil {
		c.log.WithError(err).Warn("ack reply")
	}
	c.pending.resp = &resp
	c.pending.received = true
}

// resolveTarget picks a server id through the configured discovery.
func (c *Client) resolveTarget() (string, error) {
	if c.disc == nil {
		return "", errors.New("no server id set and no discovery configured")
	}
	instances, err := c.disc.registry.Discover(c.disc.service)
	if err != nil {
		return "", errors.Wrapf(err, "discover service %q", c.disc.service)
	}
	inst, err := c.disc.balancer.Pick(instances)
	if err != nil {
		return "", errors.Wrapf(err, "pick instance of %q", c.disc.service)
	}
	c.log.WithField("service", c.disc.service).
		WithField("server_id", inst.ID).
		WithField("balancer", c.disc.balancer.Name()).
		Debug("resolved target")
	return inst.ID, nil
}

// Close releases the client's transport endpoint. The private reply queue
// disappears with it.
func (c *Client) Close() error {
	return c.transport.Close()
}
