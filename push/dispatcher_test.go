package push

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/remote"
)

type replyRecorder struct {
	mu      sync.Mutex
	replies []*payload.Payload
	err     error
}

func (r *replyRecorder) reply(p *payload.Payload) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.replies = append(r.replies, p)

	return nil
}

func (r *replyRecorder) Replies() []*payload.Payload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*payload.Payload(nil), r.replies...)
}

type handlerMock struct {
	typ     string
	called  int
	respond func(p *payload.Payload) (*payload.Payload, error)
}

func (h *handlerMock) Handles(p *payload.Payload) bool {
	return p.Metadata.Type == h.typ
}

func (h *handlerMock) Respond(_ context.Context, p *payload.Payload) (*payload.Payload, error) {
	h.called++

	if h.respond != nil {
		return h.respond(p)
	}

	return nil, nil
}

func encode(t *testing.T, v any) *payload.Payload {
	t.Helper()

	p, err := payload.Encode(v)
	require.NoError(t, err)

	return p
}

func TestDispatcher_FirstClaimingHandlerWins(t *testing.T) {
	first := &handlerMock{typ: "HealthCheckRequest"}
	second := &handlerMock{typ: "HealthCheckRequest"}
	other := &handlerMock{typ: "ClientDetectionRequest"}

	d := NewDispatcher()
	d.Register(other)
	d.Register(first)
	d.Register(second)

	rec := &replyRecorder{}
	d.Dispatch(context.Background(), encode(t, &remote.HealthCheckRequest{}), rec.reply)

	assert.Equal(t, 1, first.called)
	assert.Equal(t, 0, second.called)
	assert.Equal(t, 0, other.called)
	assert.Empty(t, rec.Replies(), "nil reply must not be sent")
}

func TestDispatcher_Unclaimed(t *testing.T) {
	d := NewDispatcher()
	d.Register(&handlerMock{typ: "HealthCheckRequest"})

	rec := &replyRecorder{}

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), encode(t, &remote.ConnectResetRequest{}), rec.reply)
	})

	assert.Empty(t, rec.Replies())
}

func TestDispatcher_HandlerErrorAndPanic(t *testing.T) {
	d := NewDispatcher()
	d.Register(&handlerMock{
		typ: "HealthCheckRequest",
		respond: func(*payload.Payload) (*payload.Payload, error) {
			return nil, errors.New("broken")
		},
	})
	d.Register(&handlerMock{
		typ: "ClientDetectionRequest",
		respond: func(*payload.Payload) (*payload.Payload, error) {
			panic("boom")
		},
	})

	rec := &replyRecorder{}

	assert.NotPanics(t, func() {
		d.Dispatch(context.Background(), encode(t, &remote.HealthCheckRequest{}), rec.reply)
		d.Dispatch(context.Background(), encode(t, &remote.ClientDetectionRequest{}), rec.reply)
	})

	assert.Empty(t, rec.Replies())
}

func TestDispatcher_BudgetBoundsSlowHandler(t *testing.T) {
	release := make(chan struct{})

	d := NewDispatcher(WithBudget(20 * time.Millisecond))
	d.Register(&handlerMock{
		typ: "HealthCheckRequest",
		respond: func(*payload.Payload) (*payload.Payload, error) {
			<-release
			return &payload.Payload{Metadata: payload.Metadata{Type: "HealthCheckResponse"}}, nil
		},
	})

	rec := &replyRecorder{}

	start := time.Now()
	d.Dispatch(context.Background(), encode(t, &remote.HealthCheckRequest{}), rec.reply)
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, rec.Replies())

	// A late reply is still delivered.
	close(release)

	require.Eventually(t, func() bool {
		return len(rec.Replies()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHandleFunc_CopiesRequestID(t *testing.T) {
	tests := map[string]struct {
		handler  Handler
		push     remote.ClientRequest
		wantType string
	}{
		"HealthCheck": {
			handler:  HealthCheckHandler(),
			push:     &remote.HealthCheckRequest{},
			wantType: "HealthCheckResponse",
		},
		"ClientDetection": {
			handler:  ClientDetectionHandler(),
			push:     &remote.ClientDetectionRequest{},
			wantType: "ClientDetectionResponse",
		},
		"ConnectReset": {
			handler:  ConnectResetHandler(func(*remote.ConnectResetRequest) {}),
			push:     &remote.ConnectResetRequest{},
			wantType: "ConnectResetResponse",
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			tt.push.SetRequestID("7")

			d := NewDispatcher()
			d.Register(tt.handler)

			rec := &replyRecorder{}
			d.Dispatch(context.Background(), encode(t, tt.push), rec.reply)

			replies := rec.Replies()
			require.Len(t, replies, 1)
			assert.Equal(t, tt.wantType, replies[0].Metadata.Type)

			var resp remote.Response
			require.NoError(t, jsonBody(replies[0], &resp))
			assert.Equal(t, "7", resp.RequestID())
			assert.True(t, resp.IsSuccess())
		})
	}
}

func TestConnectResetHandler_PassesRequest(t *testing.T) {
	var got *remote.ConnectResetRequest

	h := ConnectResetHandler(func(req *remote.ConnectResetRequest) {
		got = req
	})

	p := encode(t, &remote.ConnectResetRequest{ServerIP: "10.0.0.2", ServerPort: "8848"})
	require.True(t, h.Handles(p))

	_, err := h.Respond(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "10.0.0.2", got.ServerIP)
	assert.Equal(t, "8848", got.ServerPort)
}

func TestHandleFunc_TypeMismatch(t *testing.T) {
	h := HealthCheckHandler()
	p := encode(t, &remote.ClientDetectionRequest{})

	assert.False(t, h.Handles(p))

	_, err := h.Respond(context.Background(), p)
	assert.Error(t, err)
}

func jsonBody(p *payload.Payload, v any) error {
	return json.Unmarshal(p.Body, v)
}
