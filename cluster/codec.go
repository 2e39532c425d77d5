package cluster

import (
	"fmt"

	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/proto"
)

// codecName is the gRPC content subtype the cluster speaks
const codecName = "paxos"

type wireMarshaler interface {
	AppendWire(b []byte) []byte
}

type wireUnmarshaler interface {
	UnmarshalWire(b []byte) error
}

// codec carries protocol messages in the protobuf wire format they encode themselves to,
// and protobuf messages (replies) through proto
type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case proto.Message:
		return proto.Marshal(msg)
	case wireMarshaler:
		return msg.AppendWire(nil), nil
	}
	return nil, fmt.Errorf("%w: can't marshal %T", errUnsupportedMessage, v)
}

func (codec) Unmarshal(data []byte, v any) error {
	switch msg := v.(type) {
	case proto.Message:
		return proto.Unmarshal(data, msg)
	case wireUnmarshaler:
		return msg.UnmarshalWire(data)
	}
	return fmt.Errorf("%w: can't unmarshal into %T", errUnsupportedMessage, v)
}

func (codec) Name() string {
	return codecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
