package muxproto

import (
	"testing"

	"idevicekit/internal/plist"
)

// buf is a minimal in-memory FrameWriter/FrameReader, standing in for the
// transport.Socket pair a real mux daemon conversation runs over.
type buf struct {
	data []byte
}

func (b *buf) SendAll(p []byte) error {
	b.data = append(b.data, p...)
	return nil
}

func (b *buf) RecvExact(n int) ([]byte, error) {
	if len(b.data) < n {
		return nil, errShort
	}
	out := b.data[:n]
	b.data = b.data[n:]
	return out, nil
}

var errShort = &shortReadError{}

type shortReadError struct{}

func (*shortReadError) Error() string { return "short read" }

func TestPlistCodecSendRecvRoundTrip(t *testing.T) {
	b := &buf{}
	codec := PlistCodec{}

	if err := codec.Send(b, 7, TypeListen, plist.Dict{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	pkt, err := codec.Recv(b)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if pkt.Tag != 7 {
		t.Errorf("tag = %d, want 7", pkt.Tag)
	}
	if pkt.Type != TypeListen {
		t.Errorf("type = %q, want %q", pkt.Type, TypeListen)
	}
	if pkt.Body["MessageType"] != "Listen" {
		t.Errorf("body MessageType = %v", pkt.Body["MessageType"])
	}
}

func TestPlistCodecRejectsWrongVersion(t *testing.T) {
	b := &buf{}
	if err := writeEnvelope(b, 0, plistWireType, 1, []byte{}); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	if _, err := (PlistCodec{}).Recv(b); err == nil {
		t.Fatal("expected version mismatch error")
	}
}

func TestBinaryCodecConnectFrameLayout(t *testing.T) {
	b := &buf{}
	codec := BinaryCodec{}

	body := plist.Dict{"DeviceID": int64(18), "PortNumber": int64(0xadde)}
	if err := codec.Send(b, 3, TypeConnect, body); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The envelope's declared length must equal 16 + payload length
	// (spec.md §8 invariant 1: "every sendpacket, the peer receives exactly
	// length = 16 + len(payload) bytes in one logical frame").
	if len(b.data) != envelopeHeaderSize+8 {
		t.Fatalf("frame length = %d, want %d", len(b.data), envelopeHeaderSize+8)
	}
}

func TestBinaryCodecResultRoundTrip(t *testing.T) {
	b := &buf{}
	if err := writeEnvelope(b, 0, binaryTypeResult, 9, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("writeEnvelope: %v", err)
	}
	pkt, err := (BinaryCodec{}).Recv(b)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if pkt.Type != TypeResult || pkt.Tag != 9 {
		t.Fatalf("unexpected packet: %+v", pkt)
	}
	if pkt.Body["Number"] != int64(0) {
		t.Fatalf("Number = %v, want 0", pkt.Body["Number"])
	}
}

func TestBinaryCodecRejectsUnknownSendType(t *testing.T) {
	b := &buf{}
	err := (BinaryCodec{}).Send(b, 1, TypeReadPairRecord, plist.Dict{})
	if err == nil {
		t.Fatal("expected error for a message type the binary codec cannot carry")
	}
}
