package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a Protocol Buffers codec. proto.Message values are encoded
// directly; any other value travels as a google.protobuf.Struct built from
// its JSON form, so plain Go structs can be exported without generated code.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{DiscardUnknown: true},
	}
}

func (p protoCodec) Name() string        { return "proto" }
func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return p.mo.Marshal(msg)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %T to json: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protobuf: %T is not an object: %w", v, err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("protobuf: struct: %w", err)
	}
	return p.mo.Marshal(s)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return p.uo.Unmarshal(data, msg)
	}
	var s structpb.Struct
	if err := p.uo.Unmarshal(data, &s); err != nil {
		return err
	}
	raw, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("protobuf: struct to json: %w", err)
	}
	return json.Unmarshal(raw, v)
}
