package grpc

import (
	"bytes"
	"encoding/gob"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated via grpc.CallContentSubtype on every call this
// package makes; the server picks the matching registered codec off the
// request's content-subtype header.
const codecName = "gob"

// gobCodec lets this package ride the real grpc-go transport (framing,
// HTTP/2 multiplexing, deadlines, the works) while encoding messages with
// encoding/gob instead of protobuf wire format. protoc is not available in
// this environment to generate real .pb.go message types, and hand-writing
// protobuf-wire-compatible Go structs without the compiler checking them
// is worse than being explicit about the substitution (see DESIGN.md).
type gobCodec struct{}

func (gobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (gobCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(gobCodec{})
}
