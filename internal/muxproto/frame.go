package muxproto

import (
	"encoding/binary"

	"idevicekit/internal/ioserr"
)

// envelopeHeaderSize is the fixed 16-byte outer header: length, version,
// type, tag (each a little-endian u32), as laid out in spec.md §4.2.
const envelopeHeaderSize = 16

// writeEnvelope sends the outer frame `length | version | type | tag |
// payload`, where length = 16 + len(payload).
func writeEnvelope(w FrameWriter, version, typ, tag uint32, payload []byte) error {
	length := uint32(envelopeHeaderSize + len(payload))
	buf := make([]byte, envelopeHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], length)
	binary.LittleEndian.PutUint32(buf[4:8], version)
	binary.LittleEndian.PutUint32(buf[8:12], typ)
	binary.LittleEndian.PutUint32(buf[12:16], tag)
	copy(buf[16:], payload)
	return w.SendAll(buf)
}

// readEnvelope reads one outer frame and returns its version, type, tag and
// payload, without interpreting the payload.
func readEnvelope(r FrameReader) (version, typ, tag uint32, payload []byte, err error) {
	lengthBytes, err := r.RecvExact(4)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBytes)
	if length < envelopeHeaderSize {
		return 0, 0, 0, nil, ioserr.Wrapf(ioserr.ErrMux, "frame length %d shorter than header", length)
	}
	rest, err := r.RecvExact(int(length) - 4)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	version = binary.LittleEndian.Uint32(rest[0:4])
	typ = binary.LittleEndian.Uint32(rest[4:8])
	tag = binary.LittleEndian.Uint32(rest[8:12])
	payload = rest[12:]
	return version, typ, tag, payload, nil
}
