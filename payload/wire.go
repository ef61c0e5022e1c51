package payload

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/maxpoletaev/nacosclient/nacoserr"
)

// Field numbers of the server's protobuf schema:
//
//	message Metadata { string type = 3; map<string, string> headers = 7; string clientIp = 8; }
//	message Payload { Metadata metadata = 2; google.protobuf.Any body = 3; }
const (
	fieldMetadataType     protowire.Number = 3
	fieldMetadataHeaders  protowire.Number = 7
	fieldMetadataClientIP protowire.Number = 8

	fieldPayloadMetadata protowire.Number = 2
	fieldPayloadBody     protowire.Number = 3

	fieldMapKey   protowire.Number = 1
	fieldMapValue protowire.Number = 2
)

// Marshal encodes the payload in protobuf wire format.
func (p *Payload) Marshal() ([]byte, error) {
	body, err := proto.Marshal(&anypb.Any{Value: p.Body})
	if err != nil {
		return nil, nacoserr.Wrap(nacoserr.ErrProtocol, err)
	}

	var b []byte

	b = protowire.AppendTag(b, fieldPayloadMetadata, protowire.BytesType)
	b = protowire.AppendBytes(b, p.Metadata.marshal())
	b = protowire.AppendTag(b, fieldPayloadBody, protowire.BytesType)
	b = protowire.AppendBytes(b, body)

	return b, nil
}

func (m *Metadata) marshal() []byte {
	var b []byte

	if m.Type != "" {
		b = protowire.AppendTag(b, fieldMetadataType, protowire.BytesType)
		b = protowire.AppendString(b, m.Type)
	}

	// Sorted for a stable encoding.
	keys := maps.Keys(m.Headers)
	slices.Sort(keys)

	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldMapKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldMapValue, protowire.BytesType)
		entry = protowire.AppendString(entry, m.Headers[k])

		b = protowire.AppendTag(b, fieldMetadataHeaders, protowire.BytesType)
		b = protowire.AppendBytes(b, entry)
	}

	if m.ClientIP != "" {
		b = protowire.AppendTag(b, fieldMetadataClientIP, protowire.BytesType)
		b = protowire.AppendString(b, m.ClientIP)
	}

	return b
}

// Unmarshal decodes a payload from protobuf wire format. Unknown fields are
// skipped.
func (p *Payload) Unmarshal(data []byte) error {
	*p = Payload{}

	return walkFields(data, func(num protowire.Number, value []byte) error {
		switch num {
		case fieldPayloadMetadata:
			return p.Metadata.unmarshal(value)
		case fieldPayloadBody:
			body := &anypb.Any{}
			if err := proto.Unmarshal(value, body); err != nil {
				return nacoserr.Wrap(nacoserr.ErrProtocol, err)
			}

			p.Body = body.Value
		}

		return nil
	})
}

func (m *Metadata) unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, value []byte) error {
		switch num {
		case fieldMetadataType:
			m.Type = string(value)
		case fieldMetadataClientIP:
			m.ClientIP = string(value)
		case fieldMetadataHeaders:
			var key, val string

			err := walkFields(value, func(num protowire.Number, v []byte) error {
				switch num {
				case fieldMapKey:
					key = string(v)
				case fieldMapValue:
					val = string(v)
				}

				return nil
			})
			if err != nil {
				return err
			}

			if m.Headers == nil {
				m.Headers = make(map[string]string)
			}

			m.Headers[key] = val
		}

		return nil
	})
}

// walkFields calls fn for every length-delimited field in data, skipping
// fields of any other wire type.
func walkFields(data []byte, fn func(num protowire.Number, value []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nacoserr.Wrap(nacoserr.ErrProtocol, protowire.ParseError(n))
		}

		data = data[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nacoserr.Wrap(nacoserr.ErrProtocol, protowire.ParseError(n))
			}

			data = data[n:]

			continue
		}

		value, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nacoserr.Wrap(nacoserr.ErrProtocol, protowire.ParseError(n))
		}

		data = data[n:]

		if err := fn(num, value); err != nil {
			return err
		}
	}

	return nil
}
