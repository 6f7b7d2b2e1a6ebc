package client

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/proto"
)

var (
	ErrRawValueType    = errors.New("nats: raw serializer accepts []byte or string only")
	ErrNotProtoMessage = errors.New("nats: value is not a proto.Message")
)

// Serializer converts typed payloads to and from wire bytes for
// PublishObject/RequestObject. The []byte fast paths never touch it.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// RawSerializer passes []byte and string values through untouched. It is the
// default.
type RawSerializer struct{}

func (RawSerializer) Marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case []byte:
		return t, nil
	case string:
		return []byte(t), nil
	default:
		return nil, fmt.Errorf("%w: got %T", ErrRawValueType, v)
	}
}

func (RawSerializer) Unmarshal(data []byte, v any) error {
	switch t := v.(type) {
	case *[]byte:
		*t = append((*t)[:0], data...)
		return nil
	case *string:
		*t = string(data)
		return nil
	default:
		return fmt.Errorf("%w: got %T", ErrRawValueType, v)
	}
}

// JSONSerializer encodes payloads as JSON.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// ProtoSerializer encodes protobuf messages.
type ProtoSerializer struct{}

func (ProtoSerializer) Marshal(v any) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotProtoMessage, v)
	}
	return proto.Marshal(m)
}

func (ProtoSerializer) Unmarshal(data []byte, v any) error {
	m, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: got %T", ErrNotProtoMessage, v)
	}
	return proto.Unmarshal(data, m)
}
