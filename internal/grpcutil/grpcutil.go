package grpcutil

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorCode extracts a gRPC error code from an error. If the error is not a
// gRPC error, it returns codes.Unknown.
func ErrorCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	if st, ok := status.FromError(err); ok {
		return st.Code()
	}

	return codes.Unknown
}

func IsCanceled(err error) bool {
	return ErrorCode(err) == codes.Canceled
}

func IsDeadlineExceeded(err error) bool {
	return ErrorCode(err) == codes.DeadlineExceeded
}

// IsStreamClosed reports whether err means the stream was torn down by either
// side rather than failing on a single message.
func IsStreamClosed(err error) bool {
	switch ErrorCode(err) {
	case codes.Canceled, codes.Unavailable, codes.Aborted:
		return true
	default:
		return false
	}
}
