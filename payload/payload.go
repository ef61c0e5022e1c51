// Package payload converts typed request and response values to and from the
// generic envelope exchanged with the server. The type tag carried in the
// metadata is the only type check the protocol has, since bodies are untyped.
package payload

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// Metadata describes the body of a payload.
type Metadata struct {
	Type     string
	ClientIP string
	Headers  map[string]string
}

// Payload is the unit of exchange on both the unary and the streaming channel.
type Payload struct {
	Metadata Metadata
	Body     []byte
}

func (p *Payload) String() string {
	return fmt.Sprintf("type=%s client_ip=%s headers=%v body=%s",
		p.Metadata.Type, p.Metadata.ClientIP, p.Metadata.Headers, p.Body)
}

type headerCarrier interface {
	Headers() map[string]string
}

type headerSetter interface {
	SetHeaders(headers map[string]string)
}

// TypeName returns the unqualified name of the type of v. Pointers are
// dereferenced, so TypeName(&Foo{}) == TypeName(Foo{}) == "Foo".
func TypeName(v any) string {
	t := reflect.TypeOf(v)
	if t == nil {
		return ""
	}

	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return t.Name()
}

// TypeNameOf returns the unqualified name of T.
func TypeNameOf[T any]() string {
	return TypeName((*T)(nil))
}

// Encode wraps v into a payload. Headers are taken from v only if it carries
// them, which is the case for requests but not for responses.
func Encode(v any) (*Payload, error) {
	name := TypeName(v)
	if name == "" {
		return nil, nacoserr.Errorf(nacoserr.ErrProtocol, "cannot encode value of anonymous type %T", v)
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, nacoserr.Wrap(nacoserr.ErrProtocol, err)
	}

	p := &Payload{
		Metadata: Metadata{
			Type:     name,
			ClientIP: LocalIP(),
		},
		Body: body,
	}

	if hc, ok := v.(headerCarrier); ok {
		p.Metadata.Headers = copyHeaders(hc.Headers())
	}

	return p, nil
}

// DecodeInto fills v from the payload body. It fails with ErrTypeMismatch if
// the payload does not carry a value of the type of v.
func DecodeInto(p *Payload, v any) error {
	if p == nil {
		return nacoserr.Errorf(nacoserr.ErrProtocol, "payload is nil")
	}

	if p.Metadata.Type == "" {
		return nacoserr.Errorf(nacoserr.ErrProtocol, "payload metadata is empty")
	}

	want := TypeName(v)
	if p.Metadata.Type != want {
		return nacoserr.Errorf(nacoserr.ErrTypeMismatch, "expected %q, found %q", want, p.Metadata.Type)
	}

	if len(p.Body) == 0 {
		return nacoserr.Errorf(nacoserr.ErrProtocol, "payload body is empty")
	}

	if err := json.Unmarshal(p.Body, v); err != nil {
		return nacoserr.Wrap(nacoserr.ErrProtocol, err)
	}

	if hs, ok := v.(headerSetter); ok && len(p.Metadata.Headers) > 0 {
		hs.SetHeaders(copyHeaders(p.Metadata.Headers))
	}

	return nil
}

// Decode is the generic form of DecodeInto.
func Decode[T any](p *Payload) (*T, error) {
	v := new(T)
	if err := DecodeInto(p, v); err != nil {
		return nil, err
	}

	return v, nil
}

func copyHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}

	c := make(map[string]string, len(h))
	for k, v := range h {
		c[k] = v
	}

	return c
}
