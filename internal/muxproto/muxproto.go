// Package muxproto implements the two interchangeable mux daemon wire
// codecs (spec.md §4.2, component C2): a fixed-header binary codec (v0) and
// a plist-wrapped codec (v1). Both share the same outer envelope shape
// `u32 length | u32 version | u32 type | u32 tag | payload`; they differ in
// how `type` and `payload` are interpreted. Callers (internal/mux) pick one
// Codec at connection construction per spec.md §9 ("dynamic dispatch over
// codecs... implementations pick one at connection construction and never
// mix") and drive it through the shared Codec interface.
package muxproto

import "idevicekit/internal/plist"

// MessageType names a mux request/reply kind. The plist codec carries these
// strings directly on the wire; the binary codec maps a fixed subset of
// them to/from small integers (see binary.go).
type MessageType string

const (
	TypeResult         MessageType = "Result"
	TypeConnect        MessageType = "Connect"
	TypeListen         MessageType = "Listen"
	TypeDeviceAdd      MessageType = "Attached"
	TypeDeviceRemove   MessageType = "Detached"
	TypeReadPairRecord MessageType = "ReadPairRecord"
)

// Packet is a tagged message exchanged with the mux daemon (spec.md §3,
// MuxPacket). Body is always normalized to a plist.Dict regardless of which
// codec produced it, so callers above muxproto never see the wire
// encoding's shape.
type Packet struct {
	Type MessageType
	Tag  uint32
	Body plist.Dict
}

// Codec is the capability set a mux connection drives: pack/send a request,
// and receive/unpack the next packet. spec.md §9 calls this "a capability
// set {pack, unpack, send, recv} with two concrete variants."
type Codec interface {
	// Version is the wire version this codec negotiates as (0 for binary,
	// 1 for plist).
	Version() uint32
	// Send writes one packet's wire bytes.
	Send(w FrameWriter, tag uint32, msgType MessageType, body plist.Dict) error
	// Recv reads and decodes the next packet.
	Recv(r FrameReader) (Packet, error)
}

// FrameWriter is the subset of transport.Socket a codec needs to send.
type FrameWriter interface {
	SendAll(buf []byte) error
}

// FrameReader is the subset of transport.Socket a codec needs to receive.
type FrameReader interface {
	RecvExact(n int) ([]byte, error)
}
