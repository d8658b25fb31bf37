// Package codec serializes protocol envelopes for the transport.
//
// Both peers must be constructed with the same codec; there is no
// negotiation on the wire.
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeGob  CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Gob
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeGob {
		return &GobCodec{}
	}

	return &JSONCodec{}
}
