package inference

import (
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/grpc/encoding"
)

// msgpackCodecName is the gRPC content-subtype used for tensor payloads
const msgpackCodecName = "msgpack"

// msgpackCodec carries tensors without protobuf generated types
type msgpackCodec struct{}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return msgpackCodecName
}

func init() {
	encoding.RegisterCodec(msgpackCodec{})
}

type inferRequest struct {
	Handle string                `msgpack:"handle"`
	Inputs map[string]wireTensor `msgpack:"inputs"`
}

type inferResponse struct {
	Outputs map[string]wireTensor `msgpack:"outputs"`
}
