package codec

// Bytes stores []byte payloads as-is; handy when the data service already
// returns an encoded body.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) {
	// the provider may reuse its buffer
	return append([]byte(nil), b...), nil
}

// String is a trivial UTF-8 codec for string payloads.
type String struct{}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }
func (String) Decode(b []byte) (string, error) { return string(b), nil }
