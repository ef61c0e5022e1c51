// Package transporttest provides an in-memory transport for tests. A Server
// answers unary payloads with registered handlers and hands out the server
// side of every duplex stream opened by its connections.
package transporttest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/transport"
)

var ErrConnClosed = errors.New("connection closed")

type UnaryFunc func(p *payload.Payload) (*payload.Payload, error)

type Server struct {
	mu        sync.Mutex
	handlers  map[string]UnaryFunc
	requests  []*payload.Payload
	dialed    []string
	conns     []*Conn
	streams   chan *Stream
	dialErr   map[string]error
	streamErr error
}

func NewServer() *Server {
	return &Server{
		handlers: make(map[string]UnaryFunc),
		dialErr:  make(map[string]error),
		streams:  make(chan *Stream, 64),
	}
}

// HandleRaw registers fn for payloads carrying the given type tag.
func (s *Server) HandleRaw(typ string, fn UnaryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[typ] = fn
}

// Handle registers a typed handler for requests of type Req.
func Handle[Req any](s *Server, fn func(req *Req) (any, error)) {
	s.HandleRaw(payload.TypeNameOf[Req](), func(p *payload.Payload) (*payload.Payload, error) {
		req, err := payload.Decode[Req](p)
		if err != nil {
			return nil, err
		}

		resp, err := fn(req)
		if err != nil {
			return nil, err
		}

		return payload.Encode(resp)
	})
}

// FailDial makes dialing addr fail with err. A nil err clears the failure.
func (s *Server) FailDial(addr string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err == nil {
		delete(s.dialErr, addr)
		return
	}

	s.dialErr[addr] = err
}

// FailStream makes opening a duplex stream fail with err.
func (s *Server) FailStream(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamErr = err
}

func (s *Server) Dialer() transport.Dialer {
	return func(ctx context.Context, addr string) (transport.Conn, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.dialed = append(s.dialed, addr)

		if err := s.dialErr[addr]; err != nil {
			return nil, err
		}

		c := &Conn{server: s, addr: addr}
		s.conns = append(s.conns, c)

		return c, nil
	}
}

// Dialed returns the addresses dialed so far, in order.
func (s *Server) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Conn(nil), s.conns...)
}

// Requests returns the unary payloads received so far, in order.
func (s *Server) Requests() []*payload.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*payload.Payload(nil), s.requests...)
}

// RequestsOf returns the received unary payloads with the given type tag.
func (s *Server) RequestsOf(typ string) []*payload.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found []*payload.Payload

	for _, p := range s.requests {
		if p.Metadata.Type == typ {
			found = append(found, p)
		}
	}

	return found
}

// NextStream waits for the next duplex stream opened by any connection.
func (s *Server) NextStream(ctx context.Context) (*Stream, error) {
	select {
	case st := <-s.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Server) handle(p *payload.Payload) (*payload.Payload, error) {
	s.mu.Lock()
	s.requests = append(s.requests, p)
	fn := s.handlers[p.Metadata.Type]
	s.mu.Unlock()

	if fn == nil {
		return nil, fmt.Errorf("no handler for %s", p.Metadata.Type)
	}

	return fn(p)
}

type Conn struct {
	server *Server
	addr   string

	mu     sync.Mutex
	closed bool
}

func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Request(ctx context.Context, p *payload.Payload) (*payload.Payload, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}

	type result struct {
		p   *payload.Payload
		err error
	}

	done := make(chan result, 1)

	go func() {
		out, err := c.server.handle(p)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		return r.p, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) BiStream(ctx context.Context) (transport.Stream, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}

	c.server.mu.Lock()
	err := c.server.streamErr
	c.server.mu.Unlock()

	if err != nil {
		return nil, err
	}

	st := newStream(c.addr)

	go func() {
		select {
		case <-ctx.Done():
			st.Terminate()
		case <-st.done:
		}
	}()

	select {
	case c.server.streams <- st:
	default:
	}

	return st, nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Stream connects the client and the server side of a duplex stream. The
// client uses it through transport.Stream, tests drive the server side with
// Push, Sent and Terminate.
type Stream struct {
	addr     string
	toClient chan *payload.Payload
	toServer chan *payload.Payload
	done     chan struct{}
	once     sync.Once
}

func newStream(addr string) *Stream {
	return &Stream{
		addr:     addr,
		toClient: make(chan *payload.Payload, 64),
		toServer: make(chan *payload.Payload, 1024),
		done:     make(chan struct{}),
	}
}

func (s *Stream) Addr() string {
	return s.addr
}

func (s *Stream) Send(p *payload.Payload) error {
	select {
	case <-s.done:
		return io.EOF
	default:
	}

	select {
	case s.toServer <- p:
		return nil
	case <-s.done:
		return io.EOF
	}
}

func (s *Stream) Recv() (*payload.Payload, error) {
	select {
	case p := <-s.toClient:
		return p, nil
	case <-s.done:
		return nil, io.EOF
	}
}

func (s *Stream) CloseSend() error {
	s.Terminate()
	return nil
}

// Push delivers p to the client side.
func (s *Stream) Push(p *payload.Payload) error {
	select {
	case s.toClient <- p:
		return nil
	case <-s.done:
		return io.EOF
	}
}

// PushValue encodes v and delivers it to the client side.
func (s *Stream) PushValue(v any) error {
	p, err := payload.Encode(v)
	if err != nil {
		return err
	}

	return s.Push(p)
}

// Sent returns the payloads sent by the client, in send order.
func (s *Stream) Sent() <-chan *payload.Payload {
	return s.toServer
}

// Next waits for the next payload sent by the client.
func (s *Stream) Next(ctx context.Context) (*payload.Payload, error) {
	select {
	case p := <-s.toServer:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Terminate ends the stream for both sides.
func (s *Stream) Terminate() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Stream) Done() <-chan struct{} {
	return s.done
}
