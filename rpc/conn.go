// Package rpc implements the connection lifecycle: the server check and setup
// handshake, unary requests, and the outbound queue feeding the push stream.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"

	"github.com/maxpoletaev/nacosclient/internal/grpcutil"
	"github.com/maxpoletaev/nacosclient/metrics"
	"github.com/maxpoletaev/nacosclient/nacoserr"
	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/remote"
	"github.com/maxpoletaev/nacosclient/transport"
)

// Dispatcher receives every payload pushed by the server. The reply function
// enqueues a payload on the connection's outbound queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, p *payload.Payload, reply func(*payload.Payload) error)
}

// TokenSource stamps the current credentials into outbound request headers.
type TokenSource interface {
	StampHeaders(headers map[string]string)
}

type Config struct {
	Dialer     transport.Dialer
	Dispatcher Dispatcher
	Tokens     TokenSource
	Logger     log.Logger
	Metrics    *metrics.Metrics

	Tenant    string
	AppName   string
	Abilities remote.ClientAbilities

	// ServerCheckTimeout bounds the first request of the handshake.
	ServerCheckTimeout time.Duration
	// QueueSize is the capacity of the outbound queue.
	QueueSize int
}

func DefaultConfig() *Config {
	return &Config{
		Logger:             log.NewNopLogger(),
		AppName:            "unknown",
		Abilities:          remote.DefaultClientAbilities(),
		ServerCheckTimeout: 3 * time.Second,
		QueueSize:          1024,
	}
}

// Conn is one logical connection to a server. It is only handed out once the
// handshake has completed.
type Conn struct {
	server ServerInfo
	conf   *Config
	logger log.Logger

	tc     transport.Conn
	stream transport.Stream
	cancel context.CancelFunc

	meta       Meta
	state      atomic.Int32
	abandoned  atomic.Bool
	closed     atomic.Bool
	lastActive atomic.Int64

	queue    chan *payload.Payload
	done     chan struct{}
	doneOnce sync.Once
}

// Connect opens a transport to the server, runs the server check, binds the
// push stream and sends the setup request. On failure everything acquired so
// far is released and no connection is returned.
func Connect(ctx context.Context, server ServerInfo, conf *Config) (*Conn, error) {
	if conf.Dialer == nil {
		return nil, nacoserr.Errorf(nacoserr.ErrInvalidArgument, "no dialer configured")
	}

	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	queueSize := conf.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	c := &Conn{
		server: server,
		conf:   conf,
		logger: log.With(logger, "server", server.Addr()),
		queue:  make(chan *payload.Payload, queueSize),
		done:   make(chan struct{}),
		meta: Meta{
			ConnectType: ConnectTypeGRPC,
			ClientIP:    payload.LocalIP(),
			RemoteIP:    server.Host,
			RemotePort:  server.RPCPort(),
			Version:     remote.ClientVersion,
			CreateTime:  time.Now(),
			AppName:     conf.AppName,
			Tenant:      conf.Tenant,
			Labels:      remote.CreateLabels(),
		},
	}

	if err := c.handshake(ctx); err != nil {
		c.teardown()
		conf.Metrics.ConnectAttempt(false)

		return nil, err
	}

	conf.Metrics.ConnectAttempt(true)

	return c, nil
}

func (c *Conn) handshake(ctx context.Context) error {
	tc, err := c.conf.Dialer(ctx, c.server.Addr())
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", c.server.Addr(), nacoserr.FromTransport(err))
	}

	c.tc = tc
	c.setState(StateChecking)

	checkTimeout := c.conf.ServerCheckTimeout
	if checkTimeout <= 0 {
		checkTimeout = 3 * time.Second
	}

	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var checkResp remote.ServerCheckResponse
	if err := c.Request(checkCtx, &remote.ServerCheckRequest{}, &checkResp); err != nil {
		return fmt.Errorf("server check failed: %w", err)
	}

	c.meta.ConnectionID = checkResp.ConnectionID
	c.logger = log.With(c.logger, "conn_id", checkResp.ConnectionID)
	c.setState(StateSettingUp)

	streamCtx, streamCancel := context.WithCancel(context.Background())
	c.cancel = streamCancel

	stream, err := tc.BiStream(streamCtx)
	if err != nil {
		return fmt.Errorf("failed to open push stream: %w", nacoserr.FromTransport(err))
	}

	c.stream = stream

	go c.sendLoop()
	go c.recvLoop(streamCtx)

	setup := &remote.ConnectionSetupRequest{
		ClientVersion: remote.ClientVersion,
		Abilities:     c.conf.Abilities,
		Tenant:        c.conf.Tenant,
		Labels:        c.meta.Labels,
	}

	// The server acknowledges the setup asynchronously, nothing to wait for.
	if err := c.SendRequest(ctx, setup); err != nil {
		return fmt.Errorf("connection setup failed: %w", err)
	}

	c.touch()
	c.setState(StateReady)

	level.Info(c.logger).Log("msg", "connection established")

	return nil
}

// sendLoop is the only consumer of the outbound queue, so payloads reach the
// stream in the order they were enqueued. It is also the only caller of
// CloseSend, which must not run concurrently with Send.
func (c *Conn) sendLoop() {
	defer c.closeSend()

	for {
		select {
		case p := <-c.queue:
			if err := c.stream.Send(p); err != nil {
				level.Warn(c.logger).Log("msg", "push stream send failed", "type", p.Metadata.Type, "err", err)
				c.shutdownStream()

				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) closeSend() {
	if err := c.stream.CloseSend(); err != nil {
		level.Debug(c.logger).Log("msg", "failed to close push stream", "err", err)
	}
}

// recvLoop forwards every inbound payload to the dispatcher. It exits when the
// stream ends and never reconnects by itself.
func (c *Conn) recvLoop(ctx context.Context) {
	defer c.shutdownStream()

	for {
		p, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || grpcutil.IsCanceled(err) || grpcutil.IsStreamClosed(err) {
				level.Info(c.logger).Log("msg", "push stream closed")
			} else {
				level.Warn(c.logger).Log("msg", "push stream receive failed", "err", err)
			}

			return
		}

		c.touch()

		if c.conf.Dispatcher == nil {
			level.Warn(c.logger).Log("msg", "no dispatcher, dropping push", "type", p.Metadata.Type)
			continue
		}

		c.conf.Dispatcher.Dispatch(ctx, p, func(reply *payload.Payload) error {
			return c.enqueue(ctx, reply)
		})
	}
}

func (c *Conn) shutdownStream() {
	c.doneOnce.Do(func() {
		close(c.done)

		if c.cancel != nil {
			c.cancel()
		}
	})
}

func (c *Conn) teardown() {
	c.shutdownStream()

	if c.tc != nil {
		if err := c.tc.Close(); err != nil {
			level.Debug(c.logger).Log("msg", "failed to close transport", "err", err)
		}
	}
}

// Request sends req as a unary call and decodes the reply into resp. An error
// response from the server is reported as ErrServer, after resp has been
// filled if the reply carried the expected type.
func (c *Conn) Request(ctx context.Context, req remote.ClientRequest, resp remote.ServerResponse) error {
	if c.closed.Load() {
		return nacoserr.Errorf(nacoserr.ErrChannelClosed, "connection is closed")
	}

	c.stampHeaders(req)

	if req.RequestID() == "" {
		req.SetRequestID(uuid.NewString())
	}

	p, err := payload.Encode(req)
	if err != nil {
		return err
	}

	typ := p.Metadata.Type
	start := time.Now()

	out, err := c.tc.Request(ctx, p)
	if err != nil {
		return fmt.Errorf("%s failed: %w", typ, nacoserr.FromTransport(err))
	}

	c.conf.Metrics.ObserveRequest(typ, time.Since(start).Seconds())
	c.touch()

	level.Debug(c.logger).Log("msg", "response received", "request", typ, "response", out.Metadata.Type, "body", string(out.Body))

	if out.Metadata.Type == payload.TypeNameOf[remote.ErrorResponse]() {
		errResp, err := payload.Decode[remote.ErrorResponse](out)
		if err != nil {
			return err
		}

		return nacoserr.Wrap(nacoserr.ErrServer, fmt.Errorf("%s: %w", typ, errResp.Err()))
	}

	if err := payload.DecodeInto(out, resp); err != nil {
		return err
	}

	if err := resp.Err(); err != nil {
		return nacoserr.Wrap(nacoserr.ErrServer, fmt.Errorf("%s: %w", typ, err))
	}

	return nil
}

// RequestTimeout is Request with an explicit deadline.
func (c *Conn) RequestTimeout(req remote.ClientRequest, resp remote.ServerResponse, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return c.Request(ctx, req, resp)
}

// SendRequest enqueues req on the push stream. It blocks while the queue is
// full and fails with ErrChannelClosed once the stream has ended or the
// connection was abandoned.
func (c *Conn) SendRequest(ctx context.Context, req remote.ClientRequest) error {
	c.stampHeaders(req)

	if req.RequestID() == "" {
		req.SetRequestID(uuid.NewString())
	}

	p, err := payload.Encode(req)
	if err != nil {
		return err
	}

	return c.enqueue(ctx, p)
}

// SendResponse enqueues a reply to a server push.
func (c *Conn) SendResponse(ctx context.Context, resp remote.ServerResponse) error {
	p, err := payload.Encode(resp)
	if err != nil {
		return err
	}

	return c.enqueue(ctx, p)
}

func (c *Conn) enqueue(ctx context.Context, p *payload.Payload) error {
	if c.abandoned.Load() {
		return nacoserr.Errorf(nacoserr.ErrChannelClosed, "connection %s is abandoned", c.meta.ConnectionID)
	}

	select {
	case <-c.done:
		return nacoserr.Errorf(nacoserr.ErrChannelClosed, "connection %s: push stream is closed", c.meta.ConnectionID)
	default:
	}

	select {
	case c.queue <- p:
		return nil
	case <-c.done:
		return nacoserr.Errorf(nacoserr.ErrChannelClosed, "connection %s: push stream is closed", c.meta.ConnectionID)
	case <-ctx.Done():
		return nacoserr.FromTransport(ctx.Err())
	}
}

func (c *Conn) stampHeaders(req remote.ClientRequest) {
	if c.conf.Tokens == nil {
		return
	}

	headers := req.Headers()
	if headers == nil {
		headers = make(map[string]string)
		req.SetHeaders(headers)
	}

	c.conf.Tokens.StampHeaders(headers)
}

func (c *Conn) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) ID() string {
	return c.meta.ConnectionID
}

func (c *Conn) Server() ServerInfo {
	return c.server
}

func (c *Conn) Meta() Meta {
	return c.meta.clone()
}

// LastActive returns the time of the last successful exchange.
func (c *Conn) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Done is closed when the push stream has ended.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Abandon marks the connection as no longer usable for sends. Only the owner
// of the connection calls it.
func (c *Conn) Abandon() {
	if c.abandoned.CompareAndSwap(false, true) {
		c.setState(StateAbandoned)
	}
}

func (c *Conn) IsAbandoned() bool {
	return c.abandoned.Load()
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil // already closed
	}

	c.setState(StateClosed)
	c.shutdownStream()

	if err := c.tc.Close(); err != nil {
		return fmt.Errorf("failed to close transport: %w", err)
	}

	level.Info(c.logger).Log("msg", "connection closed")

	return nil
}
