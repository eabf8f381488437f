package voicev1

import (
	"encoding/json"
	"reflect"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// jsonCodec marshals protobuf messages with protojson and plain Go messages
// with encoding/json. It replaces connect's built-in "json" codec, which
// only accepts protobuf messages.
type jsonCodec struct{}

// Name implements connect.Codec.
func (jsonCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (jsonCodec) Marshal(msg any) ([]byte, error) {
	if pm, ok := msg.(proto.Message); ok {
		data, err := protojson.Marshal(pm)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal %T", msg)
		}
		return data, nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T", msg)
	}
	return data, nil
}

// Unmarshal implements connect.Codec.
func (jsonCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	if pm, ok := msg.(proto.Message); ok {
		if err := unmarshalProto(data, pm); err != nil {
			return errors.Wrapf(err, "failed to unmarshal %T", msg)
		}
		return nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %T", msg)
	}
	return nil
}

// WithJSON configures a client or handler to use the JSON codec.
func WithJSON() connect.Option {
	return connect.WithCodec(jsonCodec{})
}

var unmarshalOptions = protojson.UnmarshalOptions{DiscardUnknown: true}

// marshalProto encodes a well-known type field. Nil messages encode as nil.
func marshalProto(m proto.Message) (json.RawMessage, error) {
	if m == nil || reflect.ValueOf(m).IsNil() {
		return nil, nil
	}
	data, err := protojson.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %T", m)
	}
	return data, nil
}

func unmarshalProto(data []byte, m proto.Message) error {
	return unmarshalOptions.Unmarshal(data, m)
}
