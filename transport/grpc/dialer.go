package grpc

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/semaphore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/transport"
)

// NewDialer returns a dialer producing gRPC connections configured by opts.
func NewDialer(opts transport.Options, logger log.Logger) transport.Dialer {
	return func(ctx context.Context, addr string) (transport.Conn, error) {
		return Dial(ctx, addr, opts, logger)
	}
}

// Dial opens a gRPC connection to addr. It blocks until the connection is
// ready, the connect timeout expires or ctx is canceled.
func Dial(ctx context.Context, addr string, opts transport.Options, logger log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	creds := insecure.NewCredentials()
	if opts.TLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}

	limit := int64(opts.ConcurrencyLimit)
	if limit <= 0 {
		limit = int64(transport.DefaultOptions().ConcurrencyLimit)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(payload.Codec{})),
		grpc.WithChainUnaryInterceptor(
			timeoutInterceptor(opts.Timeout),
			limitInterceptor(semaphore.NewWeighted(limit)),
		),
	}

	if opts.KeepAlive > 0 {
		dialOpts = append(dialOpts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                opts.KeepAlive,
			PermitWithoutStream: true,
		}))
	}

	grpcConn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial failed: %w", err)
	}

	level.Debug(logger).Log("msg", "grpc connection established", "addr", addr, "tls", opts.TLS)

	c := &Client{conn: grpcConn}

	c.addOnCloseHook(func() error {
		return grpcConn.Close()
	})

	return c, nil
}

// timeoutInterceptor applies the default timeout to unary calls made without
// a deadline.
func timeoutInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if _, ok := ctx.Deadline(); !ok && timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// limitInterceptor bounds the number of unary calls in flight.
func limitInterceptor(sem *semaphore.Weighted) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}

		defer sem.Release(1)

		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
