// Package nacoserr defines the error kinds surfaced by the client runtime.
// Kinds form a tree rooted at ErrNacos, so errors.Is matches both the exact
// kind and any of its ancestors.
package nacoserr

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"

	"github.com/maxpoletaev/nacosclient/internal/grpcutil"
)

// Error is a node in the error kind tree.
type Error struct {
	parent error
	msg    string
}

// New creates a root error kind.
func New(msg string) *Error {
	return &Error{msg: msg}
}

// New creates a child kind, which unwraps to err.
func (err *Error) New(msg string) *Error {
	return &Error{
		parent: err,
		msg:    msg,
	}
}

func (err *Error) Error() string {
	return err.msg
}

func (err *Error) Unwrap() error {
	return err.parent
}

var (
	ErrNacos = New("nacos")

	ErrTransport         = ErrNacos.New("transport error")
	ErrDeadlineExceeded  = ErrNacos.New("deadline exceeded")
	ErrTypeMismatch      = ErrNacos.New("payload type mismatch")
	ErrProtocol          = ErrNacos.New("protocol error")
	ErrAuth              = ErrNacos.New("authentication failed")
	ErrUnsupportedFormat = ErrNacos.New("unsupported config type")
	ErrParse             = ErrNacos.New("config parse error")
	ErrChannelClosed     = ErrNacos.New("channel closed")
	ErrServer            = ErrNacos.New("server error")
	ErrInvalidArgument   = ErrNacos.New("invalid argument")
)

var kinds = []*Error{
	ErrAuth,
	ErrDeadlineExceeded,
	ErrTypeMismatch,
	ErrProtocol,
	ErrUnsupportedFormat,
	ErrParse,
	ErrChannelClosed,
	ErrServer,
	ErrInvalidArgument,
	ErrTransport,
}

// Wrap attaches kind to err, keeping both in the error chain.
func Wrap(kind *Error, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %w", kind, err)
}

// Errorf formats a message and attaches kind to it.
func Errorf(kind *Error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// FromTransport classifies an error returned by the transport layer. Expired
// deadlines, from the context or from gRPC, become ErrDeadlineExceeded. Any
// other unclassified error becomes ErrTransport, cancellation included.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrNacos) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || grpcutil.ErrorCode(err) == codes.DeadlineExceeded {
		return Wrap(ErrDeadlineExceeded, err)
	}

	return Wrap(ErrTransport, err)
}

// Kind returns the most specific kind found in the chain of err, or nil if err
// was not produced by this module.
func Kind(err error) *Error {
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}

	if errors.Is(err, ErrNacos) {
		return ErrNacos
	}

	return nil
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded)
}
