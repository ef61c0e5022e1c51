package grpc

import (
	"context"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/maxpoletaev/nacosclient/internal/multierror"
	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/transport"
)

var (
	_ transport.Conn   = (*Client)(nil)
	_ transport.Stream = (*stream)(nil)
)

var biStreamDesc = &grpc.StreamDesc{
	StreamName:    "requestBiStream",
	ServerStreams: true,
	ClientStreams: true,
}

type Client struct {
	conn    grpc.ClientConnInterface
	onClose []func() error
	closed  uint32
}

func (c *Client) addOnCloseHook(f func() error) {
	c.onClose = append(c.onClose, f)
}

func (c *Client) Close() error {
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return nil // already closed
	}

	errs := multierror.New[int]()

	for idx, f := range c.onClose {
		if err := f(); err != nil {
			errs.Add(idx, err)
		}
	}

	return errs.Combined()
}

func (c *Client) IsClosed() bool {
	return atomic.LoadUint32(&c.closed) == 1
}

func (c *Client) Request(ctx context.Context, p *payload.Payload) (*payload.Payload, error) {
	out := new(payload.Payload)
	if err := c.conn.Invoke(ctx, transport.RequestMethod, p, out); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *Client) BiStream(ctx context.Context) (transport.Stream, error) {
	cs, err := c.conn.NewStream(ctx, biStreamDesc, transport.BiStreamMethod)
	if err != nil {
		return nil, err
	}

	return &stream{cs: cs}, nil
}

type stream struct {
	cs grpc.ClientStream
}

func (s *stream) Send(p *payload.Payload) error {
	return s.cs.SendMsg(p)
}

func (s *stream) Recv() (*payload.Payload, error) {
	p := new(payload.Payload)
	if err := s.cs.RecvMsg(p); err != nil {
		return nil, err
	}

	return p, nil
}

func (s *stream) CloseSend() error {
	return s.cs.CloseSend()
}
