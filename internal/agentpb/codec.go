package agentpb

import "encoding/json"

// jsonCodec stands in for the protoc-generated wire codec (see the package
// doc comment for why). Its grpc codec name is "json"; it is not registered
// globally. idevice-agent's server forces it explicitly rather than falling
// back to grpc-go's default "proto" codec, which would reject these
// messages for not implementing proto.Message.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

// Codec is the shared codec instance idevice-agent's server installs via
// grpc.ForceServerCodec. No client-side codec option is installed anywhere
// in this module.
var Codec = jsonCodec{}
