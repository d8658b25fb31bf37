package codec

import (
	"bytes"
	"encoding/gob"
)

// GobCodec is the Go-to-Go binary option. Basic types inside interface{}
// args (bool, string, ints, floats, []byte) are pre-registered by
// encoding/gob; user-defined arg or result types must be registered with
// gob.Register on both peers before use.
type GobCodec struct{}

func (c *GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *GobCodec) Decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *GobCodec) Type() CodecType {
	return CodecTypeGob
}
