package instruments

import (
	"encoding/binary"

	"idevicekit/internal/ioserr"
	"idevicekit/internal/transport"
)

// fragmentMagic identifies the start of a fragment header, guarding against
// desync after a malformed read (spec.md §4.7).
const fragmentMagic = 0x1F3D5B79

// fragmentHeaderSize is the fixed wire size of one fragment header: a
// 16-byte preamble (magic, declared header length, fragment index/count,
// reserved flags) followed by 20 bytes of per-fragment routing info
// (channel i32, reply_identifier u32, aux_length u32, payload_length u64)
// — spec.md §4.7's field list, taken literally over its summary prose.
const fragmentHeaderSize = 16 + 20

// fragmentHeader is written on every fragment. PayloadLength is the size of
// THIS fragment's payload chunk, not the whole message — reassembly relies
// on FragmentIndex/FragmentCount to know when a message is complete, not on
// an upfront total (spec.md §4.7 "subsequent fragments carry only payload
// continuation"). AuxLength is only meaningful on the first fragment: it
// splits the fully reassembled payload into its auxiliary-header and
// selector portions.
type fragmentHeader struct {
	FragmentIndex uint16
	FragmentCount uint16
	Channel       int32
	ReplyID       uint32
	AuxLength     uint32
	PayloadLength uint64
}

func (h fragmentHeader) isFirst() bool { return h.FragmentIndex == 0 }
func (h fragmentHeader) isLast() bool  { return h.FragmentIndex == h.FragmentCount-1 }

func writeFragmentHeader(buf []byte, h fragmentHeader) {
	binary.BigEndian.PutUint32(buf[0:4], fragmentMagic)
	binary.BigEndian.PutUint32(buf[4:8], fragmentHeaderSize)
	binary.BigEndian.PutUint16(buf[8:10], h.FragmentIndex)
	binary.BigEndian.PutUint16(buf[10:12], h.FragmentCount)
	binary.BigEndian.PutUint32(buf[12:16], 0) // reserved

	binary.BigEndian.PutUint32(buf[16:20], uint32(h.Channel))
	binary.BigEndian.PutUint32(buf[20:24], h.ReplyID)
	binary.BigEndian.PutUint32(buf[24:28], h.AuxLength)
	binary.BigEndian.PutUint64(buf[28:36], h.PayloadLength)
}

func readFragmentHeader(buf []byte) (fragmentHeader, error) {
	if len(buf) < fragmentHeaderSize {
		return fragmentHeader{}, ioserr.Wrap(ioserr.ErrMux, "truncated fragment header")
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != fragmentMagic {
		return fragmentHeader{}, ioserr.Wrapf(ioserr.ErrMux, "bad fragment magic %#x", magic)
	}
	return fragmentHeader{
		FragmentIndex: binary.BigEndian.Uint16(buf[8:10]),
		FragmentCount: binary.BigEndian.Uint16(buf[10:12]),
		Channel:       int32(binary.BigEndian.Uint32(buf[16:20])),
		ReplyID:       binary.BigEndian.Uint32(buf[20:24]),
		AuxLength:     binary.BigEndian.Uint32(buf[24:28]),
		PayloadLength: binary.BigEndian.Uint64(buf[28:36]),
	}, nil
}

// maxFragmentPayload bounds a single fragment's payload so very large
// messages (e.g. a big sysmontap sample) are split rather than written as
// one unbounded write.
const maxFragmentPayload = 16 * 1024

// writeFragments splits payload into one or more fragments and writes them
// serially to sock. Writes are synchronous and flush before returning
// (spec.md §4.7 "Backpressure").
func writeFragments(sock *transport.Socket, channel int32, replyID uint32, payload []byte, auxLength uint32) error {
	count := (len(payload) + maxFragmentPayload - 1) / maxFragmentPayload
	if count == 0 {
		count = 1
	}

	for i := 0; i < count; i++ {
		start := i * maxFragmentPayload
		end := start + maxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		buf := make([]byte, fragmentHeaderSize+len(chunk))
		writeFragmentHeader(buf, fragmentHeader{
			FragmentIndex: uint16(i),
			FragmentCount: uint16(count),
			Channel:       channel,
			ReplyID:       replyID,
			AuxLength:     auxLength,
			PayloadLength: uint64(len(chunk)),
		})
		copy(buf[fragmentHeaderSize:], chunk)

		if err := sock.SendAll(buf); err != nil {
			return err
		}
	}
	return nil
}

// readFragment reads exactly one fragment from sock.
func readFragment(sock *transport.Socket) (fragmentHeader, []byte, error) {
	headerBuf, err := sock.RecvExact(fragmentHeaderSize)
	if err != nil {
		return fragmentHeader{}, nil, err
	}
	h, err := readFragmentHeader(headerBuf)
	if err != nil {
		return fragmentHeader{}, nil, err
	}
	chunk, err := sock.RecvExact(int(h.PayloadLength))
	if err != nil {
		return fragmentHeader{}, nil, err
	}
	return h, chunk, nil
}
