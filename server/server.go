// Package server implements the serving side of the RPC bridge: it consumes
// requests from the server's topic, routes them to registered handlers, and
// publishes the correlated responses.
//
// Request processing pipeline:
//
//	receive loop (Next drives onDelivery)
//	  → decode Request → middleware chain → handler → Response
//	  → serial mode:     publish inline, one request at a time
//	  → concurrent mode: one worker goroutine per request; workers hand
//	    finished responses to a single publisher goroutine
//
// The transport's outbound side is not safe for concurrent writers, so at
// most one goroutine publishes at any time: the receive loop itself in
// serial mode, the dedicated publisher in concurrent mode.
package server

import (
	"context"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/njatkinson/callme/codec"
	"github.com/njatkinson/callme/logging"
	"github.com/njatkinson/callme/middleware"
	"github.com/njatkinson/callme/protocol"
	"github.com/njatkinson/callme/registry"
	"github.com/njatkinson/callme/transport"
)

const (
	defaultPollInterval     = time.Second
	defaultCompletionBuffer = 64
	registryTTL             = 10 // seconds, renewed by the registry's KeepAlive
)

// Handler is a registered remote method: positional arguments in, one value
// or an error out. With the JSON codec, numeric arguments arrive as float64.
type Handler func(args ...interface{}) (interface{}, error)

// State is the server lifecycle state.
type State uint32

const (
	StateCreated State = iota // registry mutable, not consuming yet
	StateRunning              // receive loop active
	StateStopping             // stop requested, loop exiting at next tick
	StateStopped              // torn down; inspectable but unusable
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// completion carries one finished response from a worker to the publisher.
// It is self-contained: everything needed to publish travels with it.
type completion struct {
	resp          *protocol.Response
	correlationID string
	replyTo       string
}

// Option configures a Server.
type Option func(*Server)

// WithConcurrency switches to worker-per-request execution: requests are
// acknowledged on arrival and handled in parallel, responses are published
// by a dedicated goroutine. Default is serial: one request fully completes
// before the next is read.
func WithConcurrency() Option {
	return func(s *Server) { s.concurrent = true }
}

// WithPollInterval sets the receive-loop tick. The tick bounds how long
// Stop waits before the loop notices the stop request.
func WithPollInterval(d time.Duration) Option {
	return func(s *Server) { s.pollInterval = d }
}

// WithCodec sets the envelope codec. It must match the clients'.
func WithCodec(cd codec.Codec) Option {
	return func(s *Server) { s.codec = cd }
}

// WithLogger injects a structured logger. The default discards everything.
func WithLogger(log logging.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithCompletionBuffer sets the capacity of the worker→publisher queue in
// concurrent mode. Workers block when it is full, which backpressures
// handler completion against a slow broker.
func WithCompletionBuffer(n int) Option {
	return func(s *Server) { s.completionBuf = n }
}

// WithRegistry advertises the server id under a service name for the
// duration of Serve, so clients can discover it instead of being configured
// with the id.
func WithRegistry(reg registry.Registry, service string, weight int) Option {
	return func(s *Server) {
		s.adv = &advertisement{registry: reg, service: service, weight: weight}
	}
}

type advertisement struct {
	registry registry.Registry
	service  string
	weight   int
}

// Server consumes requests for one server id and answers them.
type Server struct {
	transport     transport.Transport
	serverID      string
	codec         codec.Codec
	log           logging.Logger
	pollInterval  time.Duration
	concurrent    bool
	completionBuf int
	adv           *advertisement

	handlers    map[string]Handler // frozen once Serve begins
	middlewares []middleware.Middleware
	chain       middleware.HandlerFunc // built once at Serve

	state       atomic.Uint32
	done        chan struct{} // closed when teardown finished
	workers     sync.WaitGroup
	completions chan completion
	pubDone     chan struct{} // closed when the publisher drained and exited
}

// New creates a server for the given id, declares its request topic and
// subscribes to it. A failure here means the broker is unreachable or the
// topology cannot be set up; it is fatal and the server never starts.
//
// The server takes ownership of the transport endpoint; it is closed during
// teardown.
func New(t transport.Transport, serverID string, opts ...Option) (*Server, error) {
	if serverID == "" {
		return nil, errors.New("empty server id")
	}
	s := &Server{
		transport:     t,
		serverID:      serverID,
		codec:         codec.GetCodec(codec.CodecTypeJSON),
		log:           logging.Discard(),
		pollInterval:  defaultPollInterval,
		completionBuf: defaultCompletionBuffer,
		handlers:      make(map[string]Handler),
		done:          make(chan struct{}),
		pubDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.completions = make(chan completion, s.completionBuf)
	s.log = s.log.WithField("server_id", serverID)

	topic := protocol.ServerTopic(serverID)
	if err := t.Declare(topic); err != nil {
		return nil, errors.Wrapf(err, "declare server topic %q", topic)
	}
	if err := t.Consume(topic, s.onDelivery); err != nil {
		return nil, errors.Wrapf(err, "consume server topic %q", topic)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// RegisterName makes h callable as name, which may be a dotted path.
// Registering an existing name overwrites it. Registration is only allowed
// before Serve; the handler table is read concurrently once serving.
func (s *Server) RegisterName(name string, h Handler) error {
	if s.State() != StateCreated {
		return errors.Errorf("cannot register on a %s server", s.State())
	}
	if name == "" {
		return errors.New("empty handler name")
	}
	if h == nil {
		return errors.New("nil handler")
	}
	s.handlers[name] = h
	return nil
}

// Register makes h callable under its own function name (the symbol name
// without package path, e.g. Add or Calc.Add for a method value). Anonymous
// functions get compiler names like func1; register those with
// RegisterName instead.
func (s *Server) Register(h Handler) error {
	name := handlerName(h)
	if name == "" {
		return errors.New("cannot derive a name for the handler, use RegisterName")
	}
	return s.RegisterName(name, h)
}

// handlerName derives a registration name from the function symbol.
func handlerName(h Handler) string {
	if h == nil {
		return ""
	}
	fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
	if fn == nil {
		return ""
	}
	name := fn.Name() // "github.com/acme/pkg.(*Calc).Add-fm", "main.add", ...
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, "-fm")
	return strings.NewReplacer("(", "", "*", "", ")", "").Replace(name)
}

// Use appends a middleware. The chain is built once when Serve starts, so
// all Use calls must happen before then; later calls are ignored.
func (s *Server) Use(mw middleware.Middleware) {
	if s.State() != StateCreated {
		s.log.Warn("middleware registered after start is ignored")
		return
	}
	s.middlewares = append(s.middlewares, mw)
}

// Serve runs the receive loop and blocks until the server stops. It returns
// nil after an orderly Stop, or the transport fault that forced the loop
// down. Either way the server ends up Stopped with consumer, publisher and
// transport torn down in that order.
func (s *Server) Serve() error {
	if !s.state.CompareAndSwap(uint32(StateCreated), uint32(StateRunning)) {
		return errors.Errorf("cannot serve: server is %s", s.State())
	}

	s.chain = middleware.Chain(s.middlewares...)(s.dispatch)
	if s.concurrent {
		go s.publishLoop()
	}

	if s.adv != nil {
		inst := registry.ServerInstance{ID: s.serverID, Weight: s.adv.weight}
		if err := s.adv.registry.Register(s.adv.service, inst, registryTTL); err != nil {
			fault := errors.Wrapf(err, "advertise %q as %q", s.serverID, s.adv.service)
			s.teardown(fault)
			return fault
		}
	}

	s.log.WithField("concurrent", s.concurrent).Info("server running")

	var fault error
	for s.State() == StateRunning {
		err := s.transport.Next(s.pollInterval)
		if err == nil || errors.Is(err, transport.ErrTimeout) {
			continue // a delivery was handled, or an idle tick
		}
		// Anything else is fatal: the loop cannot receive anymore.
		fault = err
		break
	}

	s.teardown(fault)
	return fault
}

// Stop requests shutdown and blocks until teardown has finished. The
// receive loop notices the request at its next tick, so Stop takes up to
// one poll interval plus the drain of in-flight work. Calling Stop on a
// never-started server just marks it Stopped.
func (s *Server) Stop() {
	if s.state.CompareAndSwap(uint32(StateCreated), uint32(StateStopped)) {
		close(s.done) // nothing ever ran, nothing to tear down
		return
	}
	s.state.CompareAndSwap(uint32(StateRunning), uint32(StateStopping))
	<-s.done
}

// teardown finishes all in-flight work and releases resources. Order
// matters: consumption has already stopped (the receive loop exited), then
// the publisher drains and exits, then the registry entry disappears, then
// the transport closes.
func (s *Server) teardown(fault error) {
	if s.concurrent {
		// Workers enqueue their completion before exiting, so after Wait
		// returns everything enqueued is in the channel; close it and let
		// the publisher drain to exhaustion. Nothing accepted before the
		// stop is dropped.
		s.workers.Wait()
		close(s.completions)
		<-s.pubDone
	}

	if s.adv != nil {
		if err := s.adv.registry.Deregister(s.adv.service, s.serverID); err != nil {
			s.log.WithError(err).Warn("deregister server")
		}
	}
	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Warn("close transport")
	}

	if fault != nil {
		s.log.WithError(fault).Error("server stopped on transport fault")
	} else {
		s.log.Info("server stopped")
	}
	s.state.Store(uint32(StateStopped))
	close(s.done)
}

// onDelivery is the consumer callback for the request topic; it runs inside
// Next on the receive-loop goroutine.
func (s *Server) onDelivery(d transport.Delivery) {
	var req protocol.Request
	if err := s.codec.Decode(d.Body, &req); err != nil || !req.Valid() {
		// Cross-talk or garbage on the topic: drop without a response, and
		// ack so the broker forgets it instead of redelivering it forever.
		metrics.droppedDeliveries.Inc()
		s.log.WithField("reply_to", d.ReplyTo).Warn("dropping malformed delivery")
		if err := d.Ack(); err != nil {
			s.log.WithError(err).Warn("ack malformed delivery")
		}
		return
	}

	if s.concurrent {
		// Commit consumption before execution: a crash mid-handler must not
		// redeliver the request.
		if err := d.Ack(); err != nil {
			s.log.WithError(err).Warn("ack request")
		}
		s.workers.Add(1)
		go s.runWorker(&req, d.CorrelationID, d.ReplyTo)
		return
	}

	// Serial mode: execute, then ack, then publish, all inline. The next
	// request is not read before this one is answered.
	resp := s.execute(&req)
	if err := d.Ack(); err != nil {
		s.log.WithError(err).Warn("ack request")
	}
	s.respond(resp, d.CorrelationID, d.ReplyTo)
}

// runWorker executes one request and hands the completion to the publisher.
// Workers never publish themselves.
func (s *Server) runWorker(req *protocol.Request, correlationID, replyTo string) {
	defer s.workers.Done()
	metrics.inflightWorkers.Inc()
	defer metrics.inflightWorkers.Dec()

	resp := s.execute(req)
	s.completions <- completion{resp: resp, correlationID: correlationID, replyTo: replyTo}
}

// publishLoop is the single writer in concurrent mode: it owns the outbound
// side of the transport and drains the completion queue until it is closed
// during teardown.
func (s *Server) publishLoop() {
	defer close(s.pubDone)
	for entry := range s.completions {
		s.respond(entry.resp, entry.correlationID, entry.replyTo)
	}
}

// execute runs the middleware chain around the dispatcher and records the
// request metrics.
func (s *Server) execute(req *protocol.Request) *protocol.Response {
	start := time.Now()
	resp := s.chain(context.Background(), req)
	if resp == nil {
		resp = protocol.NewErrorResponse("empty response from handler chain")
	}
	metrics.requestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	metrics.requestsTotal.WithLabelValues(req.Method, resp.Status.String()).Inc()
	return resp
}

// dispatch is the innermost HandlerFunc: look the method up, run it, fold
// the outcome (value, error or panic) into a Response. Nothing escapes to
// crash the receive loop or a worker.
func (s *Server) dispatch(_ context.Context, req *protocol.Request) (resp *protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("method", req.Method).Errorf("handler panicked: %v", r)
			resp = protocol.NewErrorResponse(fmt.Sprintf("method %q panicked: %v", req.Method, r))
		}
	}()

	h, ok := s.handlers[req.Method]
	if !ok {
		return protocol.NewErrorResponse(fmt.Sprintf("unknown method %q", req.Method))
	}

	result, err := h(req.Args...)
	if err != nil {
		return protocol.NewErrorResponse(err.Error())
	}
	return protocol.NewResponse(result)
}

// respond encodes and publishes one response to the caller's reply topic.
// Publish failures are logged, not fatal: the caller times out, the server
// keeps serving.
func (s *Server) respond(resp *protocol.Response, correlationID, replyTo string) {
	if replyTo == "" {
		s.log.Debug("request carried no reply topic, dropping response")
		return
	}
	body, err := s.codec.Encode(resp)
	if err != nil {
		// The handler returned something the codec cannot carry. Tell the
		// caller instead of letting it time out.
		s.log.WithError(err).WithField("reply_to", replyTo).Error("encode response")
		body, err = s.codec.Encode(protocol.NewErrorResponse(
			fmt.Sprintf("response not encodable: %v", err)))
		if err != nil {
			return
		}
	}
	if err := s.transport.Publish(replyTo, body, correlationID, ""); err != nil {
		s.log.WithError(err).WithField("reply_to", replyTo).Error("publish response")
	}
}
