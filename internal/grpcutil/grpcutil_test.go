package grpcutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestErrorCode(t *testing.T) {
	err := status.New(codes.DataLoss, "").Err()

	assert.Equal(t, codes.DataLoss, ErrorCode(err))
	assert.Equal(t, codes.Unknown, ErrorCode(assert.AnError))
	assert.Equal(t, codes.OK, ErrorCode(nil))
}

func TestIsDeadlineExceeded(t *testing.T) {
	assert.True(t, IsDeadlineExceeded(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, IsDeadlineExceeded(status.Error(codes.Canceled, "")))
	assert.True(t, IsCanceled(status.Error(codes.Canceled, "")))
}

func TestIsStreamClosed(t *testing.T) {
	assert.True(t, IsStreamClosed(status.Error(codes.Unavailable, "")))
	assert.False(t, IsStreamClosed(status.Error(codes.InvalidArgument, "")))
	assert.False(t, IsStreamClosed(assert.AnError))
}
