package api

import (
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the calculator service.
const CodecName = "cbor"

type codec struct{}

func (codec) Marshal(v any) ([]byte, error) {
	return Marshal(v)
}

func (codec) Unmarshal(data []byte, v any) error {
	return Unmarshal(data, v)
}

func (codec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(codec{})
}
