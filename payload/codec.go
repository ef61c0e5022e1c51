package payload

import (
	"fmt"
)

// Codec is a gRPC codec for *Payload messages. It reports itself as "proto"
// because the bytes it produces are protobuf-compatible with the server schema.
type Codec struct{}

func (Codec) Marshal(v interface{}) ([]byte, error) {
	p, ok := v.(*Payload)
	if !ok {
		return nil, fmt.Errorf("payload codec: cannot marshal %T", v)
	}

	return p.Marshal()
}

func (Codec) Unmarshal(data []byte, v interface{}) error {
	p, ok := v.(*Payload)
	if !ok {
		return fmt.Errorf("payload codec: cannot unmarshal into %T", v)
	}

	return p.Unmarshal(data)
}

func (Codec) Name() string {
	return "proto"
}
