// Package transport is the boundary between the connection lifecycle and the
// concrete RPC framework. A Conn offers a unary call and a duplex stream, both
// carrying payloads.
package transport

import (
	"context"
	"time"

	"github.com/maxpoletaev/nacosclient/payload"
)

const (
	RequestMethod  = "/Request/request"
	BiStreamMethod = "/BiRequestStream/requestBiStream"
)

// Conn is a connection to a single server.
type Conn interface {
	Request(ctx context.Context, p *payload.Payload) (*payload.Payload, error)
	BiStream(ctx context.Context) (Stream, error)
	Close() error
}

// Stream is the client side of a duplex stream. Send and Recv may be called
// from different goroutines, but each of them from one goroutine at a time.
type Stream interface {
	Send(p *payload.Payload) error
	Recv() (*payload.Payload, error)
	CloseSend() error
}

// Dialer opens a connection to the given address.
type Dialer func(ctx context.Context, addr string) (Conn, error)

type Options struct {
	TLS              bool          `koanf:"tls"`
	KeepAlive        time.Duration `koanf:"keep_alive"`
	Timeout          time.Duration `koanf:"timeout"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	ConcurrencyLimit int           `koanf:"concurrency_limit"`
}

func DefaultOptions() Options {
	return Options{
		KeepAlive:        360 * time.Second,
		Timeout:          5 * time.Second,
		ConnectTimeout:   5 * time.Second,
		ConcurrencyLimit: 1024,
	}
}
