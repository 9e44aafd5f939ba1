package peer

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec transports plain Go structs over grpc without a protoc
// pipeline: method payloads are marshalled as JSON rather than wire
// protobuf. Registered once via encoding.RegisterCodec in init() and
// selected per-call with grpc.CallContentSubtype(jsonCodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("peer: json codec unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return jsonCodecName }

const jsonCodecName = "json"
