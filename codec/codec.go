// Package codec turns slot payloads into bytes for a Provider and back.
package codec

import "fmt"

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns the codec registered under name: "json" (default when
// empty), "cbor" or "msgpack".
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "json":
		return JSON[V]{}, nil
	case "cbor":
		c, err := NewCBOR[V](false)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	default:
		return nil, fmt.Errorf("codec: unknown codec %q", name)
	}
}
