package muxproto

import (
	"encoding/binary"

	"idevicekit/internal/ioserr"
	"idevicekit/internal/plist"
)

// Binary wire type codes (spec.md §4.2, "Binary v0").
const (
	binaryTypeResult       = 1
	binaryTypeConnect      = 2
	binaryTypeListen       = 3
	binaryTypeDeviceAdd    = 4
	binaryTypeDeviceRemove = 5
)

const deviceAddSerialFieldSize = 256

// BinaryCodec is the v0 mux codec: a fixed-header struct framing with no
// property lists anywhere. It is tried first on every fresh connection
// (spec.md §4.2 "Version negotiation").
type BinaryCodec struct{}

func (BinaryCodec) Version() uint32 { return 0 }

func (BinaryCodec) Send(w FrameWriter, tag uint32, msgType MessageType, body plist.Dict) error {
	var typ uint32
	var payload []byte

	switch msgType {
	case TypeListen:
		typ = binaryTypeListen
	case TypeConnect:
		typ = binaryTypeConnect
		deviceID, _ := body["DeviceID"].(int64)
		port, _ := body["PortNumber"].(int64)
		payload = make([]byte, 8)
		binary.LittleEndian.PutUint32(payload[0:4], uint32(deviceID))
		// PortNumber has already been byte-swapped by the caller
		// (internal/mux, shared across both codecs per spec.md §4.2 and
		// §9's open question); this just lays it out little-endian like
		// every other field in the binary frame.
		binary.LittleEndian.PutUint16(payload[4:6], uint16(port))
	default:
		return ioserr.Wrapf(ioserr.ErrMux, "binary codec cannot send message type %q", msgType)
	}

	return writeEnvelope(w, BinaryCodec{}.Version(), typ, tag, payload)
}

func (BinaryCodec) Recv(r FrameReader) (Packet, error) {
	version, typ, tag, payload, err := readEnvelope(r)
	if err != nil {
		return Packet{}, err
	}
	if version != 0 {
		return Packet{}, ioserr.Wrapf(ioserr.ErrMuxVersion, "expected binary version 0, got %d", version)
	}

	switch typ {
	case binaryTypeResult:
		if len(payload) < 4 {
			return Packet{}, ioserr.Wrap(ioserr.ErrMux, "truncated Result payload")
		}
		number := binary.LittleEndian.Uint32(payload[:4])
		return Packet{Type: TypeResult, Tag: tag, Body: plist.Dict{"Number": int64(number)}}, nil

	case binaryTypeDeviceAdd:
		const wantLen = 4 + 2 + deviceAddSerialFieldSize + 2 + 4
		if len(payload) < wantLen {
			return Packet{}, ioserr.Wrap(ioserr.ErrMux, "truncated DeviceAdd payload")
		}
		devID := binary.LittleEndian.Uint32(payload[0:4])
		usbPID := binary.LittleEndian.Uint16(payload[4:6])
		serialField := payload[6 : 6+deviceAddSerialFieldSize]
		serial := serialField
		if idx := indexByte(serialField, 0); idx >= 0 {
			serial = serialField[:idx]
		}
		location := binary.LittleEndian.Uint32(payload[6+deviceAddSerialFieldSize+2 : wantLen])
		body := plist.Dict{
			"DeviceID": int64(devID),
			"Properties": plist.Dict{
				"ProductID":    int64(usbPID),
				"SerialNumber": plist.Data(append([]byte{}, serial...)),
				"LocationID":   int64(location),
			},
		}
		return Packet{Type: TypeDeviceAdd, Tag: tag, Body: body}, nil

	case binaryTypeDeviceRemove:
		if len(payload) < 4 {
			return Packet{}, ioserr.Wrap(ioserr.ErrMux, "truncated DeviceRemove payload")
		}
		devID := binary.LittleEndian.Uint32(payload[:4])
		return Packet{Type: TypeDeviceRemove, Tag: tag, Body: plist.Dict{"DeviceID": int64(devID)}}, nil

	default:
		return Packet{}, ioserr.Wrapf(ioserr.ErrMux, "unexpected binary packet type %d", typ)
	}
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}
