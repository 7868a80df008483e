package codec

import (
	"errors"

	"google.golang.org/protobuf/proto"
)

// Protobuf serializes proto messages. ctor must return a fresh, empty
// message of the concrete type, e.g. func() *pb.Profile { return &pb.Profile{} }.
type Protobuf[T proto.Message] struct {
	ctor func() T
	opts proto.MarshalOptions
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	// deterministic output keeps equal payloads byte-equal in the store
	return Protobuf[T]{ctor: ctor, opts: proto.MarshalOptions{Deterministic: true}}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return c.opts.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	if c.ctor == nil {
		var zero T
		return zero, errors.New("codec: protobuf codec built without constructor")
	}
	m := c.ctor()
	err := proto.Unmarshal(b, m)
	return m, err
}
