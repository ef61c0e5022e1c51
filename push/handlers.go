package push

import (
	"context"

	"github.com/maxpoletaev/nacosclient/payload"
	"github.com/maxpoletaev/nacosclient/remote"
)

type requestIDCarrier interface {
	RequestID() string
}

type funcHandler[Req any] struct {
	typ string
	fn  func(ctx context.Context, req *Req) (remote.ServerResponse, error)
}

// HandleFunc builds a handler for pushes of type Req. The reply returned by fn
// carries the request id of the push; a nil reply sends nothing back.
func HandleFunc[Req any](fn func(ctx context.Context, req *Req) (remote.ServerResponse, error)) Handler {
	return &funcHandler[Req]{
		typ: payload.TypeNameOf[Req](),
		fn:  fn,
	}
}

func (h *funcHandler[Req]) Handles(p *payload.Payload) bool {
	return p.Metadata.Type == h.typ
}

func (h *funcHandler[Req]) Respond(ctx context.Context, p *payload.Payload) (*payload.Payload, error) {
	req, err := payload.Decode[Req](p)
	if err != nil {
		return nil, err
	}

	resp, err := h.fn(ctx, req)
	if err != nil || resp == nil {
		return nil, err
	}

	if rc, ok := any(req).(requestIDCarrier); ok {
		resp.SetRequestID(rc.RequestID())
	}

	return payload.Encode(resp)
}

// HealthCheckHandler answers keep-alive probes sent by the server.
func HealthCheckHandler() Handler {
	return HandleFunc(func(context.Context, *remote.HealthCheckRequest) (remote.ServerResponse, error) {
		return &remote.HealthCheckResponse{Response: remote.NewResponse()}, nil
	})
}

// ClientDetectionHandler answers the server's liveness checks.
func ClientDetectionHandler() Handler {
	return HandleFunc(func(context.Context, *remote.ClientDetectionRequest) (remote.ServerResponse, error) {
		return &remote.ClientDetectionResponse{Response: remote.NewResponse()}, nil
	})
}

// ConnectResetHandler acknowledges a reset request and passes it to onReset,
// which must not block.
func ConnectResetHandler(onReset func(req *remote.ConnectResetRequest)) Handler {
	return HandleFunc(func(_ context.Context, req *remote.ConnectResetRequest) (remote.ServerResponse, error) {
		onReset(req)
		return &remote.ConnectResetResponse{Response: remote.NewResponse()}, nil
	})
}
