package mux

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"idevicekit/internal/muxproto"
	"idevicekit/internal/plist"
	"idevicekit/internal/transport"
)

// newTestConnection builds a Connection directly around one end of an
// in-memory net.Pipe, the test-only substitute for transport.Dial's real
// usbmuxd socket dial (mirrors internal/transport's own net.Pipe tests).
func newTestConnection(t *testing.T, codec muxproto.Codec, protocol Protocol) (*Connection, *transport.Socket) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	conn := &Connection{
		sock:       transport.DialConn(client),
		codec:      codec,
		state:      stateFresh,
		registry:   &Registry{},
		socketPath: "test",
		protocol:   protocol,
	}
	return conn, transport.DialConn(server)
}

func deviceAddPacket(tag uint32, deviceID int64, serial string) muxproto.Packet {
	return muxproto.Packet{
		Type: muxproto.TypeDeviceAdd,
		Tag:  tag,
		Body: plist.Dict{
			"DeviceID": deviceID,
			"Properties": plist.Dict{
				"ProductID":    int64(0x1234),
				"SerialNumber": plist.Data(serial),
				"LocationID":   int64(0),
			},
		},
	}
}

func deviceRemovePacket(tag uint32, deviceID int64) muxproto.Packet {
	return muxproto.Packet{Type: muxproto.TypeDeviceRemove, Tag: tag, Body: plist.Dict{"DeviceID": deviceID}}
}

// TestListDevicesScenario is spec.md §8 scenario S1: two DeviceAdd events
// then one DeviceRemove, leaving exactly one device in the registry.
func TestListDevicesScenario(t *testing.T) {
	conn, daemon := newTestConnection(t, muxproto.PlistCodec{}, ProtocolPlist)

	go func() {
		// Drain the client's Listen request, then push three unsolicited
		// events before the test's Process loop runs.
		req, err := muxproto.PlistCodec{}.Recv(daemon)
		if err != nil {
			return
		}
		muxproto.PlistCodec{}.Send(daemon, req.Tag, muxproto.TypeResult, plist.Dict{"Number": int64(0)})
		muxproto.PlistCodec{}.Send(daemon, 0, muxproto.TypeDeviceAdd, deviceAddPacket(0, 17, "aaaa").Body)
		muxproto.PlistCodec{}.Send(daemon, 0, muxproto.TypeDeviceAdd, deviceAddPacket(0, 18, "bbbb").Body)
		muxproto.PlistCodec{}.Send(daemon, 0, muxproto.TypeDeviceRemove, deviceRemovePacket(0, 17).Body)
	}()

	if err := conn.sendListen(); err != nil {
		t.Fatalf("sendListen: %v", err)
	}
	conn.state = stateListening

	for i := 0; i < 3; i++ {
		if err := conn.Process(time.Second); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	devices := conn.Devices()
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1: %+v", len(devices), devices)
	}
	if devices[0].DeviceID != 18 || devices[0].SerialString() != "bbbb" {
		t.Fatalf("unexpected surviving device: %+v", devices[0])
	}
}

// TestBinaryCodecRecvReportsVersionMismatch is the unit-level half of
// spec.md §8 scenario S2: a plist-framed reply to a binary-codec Recv is
// reported as ErrMuxVersion, the signal Listen's fallback watches for.
func TestBinaryCodecRecvReportsVersionMismatch(t *testing.T) {
	conn, daemon := newTestConnection(t, muxproto.BinaryCodec{}, ProtocolBinary)

	go func() {
		// The binary codec only decodes daemon-to-client packets, so read the
		// client's 16-byte binary Listen frame raw and take its tag.
		header, err := daemon.RecvExact(16)
		if err != nil {
			return
		}
		muxproto.PlistCodec{}.Send(daemon, binary.LittleEndian.Uint32(header[12:16]), muxproto.TypeResult, plist.Dict{"Number": int64(0)})
	}()

	err := conn.sendListen()
	if err == nil {
		t.Fatal("expected a version mismatch error from the binary codec")
	}
}

// TestListenFallsBackToPlistOnVersionMismatch is the end-to-end form of
// spec.md §8 scenario S2, driving the real Listen() entry point against a
// fake daemon listening on a real Unix-domain socket: the daemon refuses
// the first (binary) Listen with a plist-framed reply, and Listen reissues
// Listen with the plist codec over a fresh connection.
func TestListenFallsBackToPlistOnVersionMismatch(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "usbmuxd.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		// First connection: binary Listen refused with a plist reply.
		first, err := ln.Accept()
		if err != nil {
			return
		}
		sock := transport.DialConn(first)
		if header, err := sock.RecvExact(16); err == nil {
			muxproto.PlistCodec{}.Send(sock, binary.LittleEndian.Uint32(header[12:16]), muxproto.TypeResult, plist.Dict{"Number": int64(0)})
		}
		first.Close()

		// Second connection: plist Listen accepted.
		second, err := ln.Accept()
		if err != nil {
			return
		}
		defer second.Close()
		sock2 := transport.DialConn(second)
		req2, err := muxproto.PlistCodec{}.Recv(sock2)
		if err != nil {
			return
		}
		muxproto.PlistCodec{}.Send(sock2, req2.Tag, muxproto.TypeResult, plist.Dict{"Number": int64(0)})
		// Keep the connection open for the remainder of the test.
		time.Sleep(200 * time.Millisecond)
	}()

	conn, err := Listen(socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer conn.Close()

	if conn.protocol != ProtocolPlist {
		t.Fatalf("protocol = %v, want ProtocolPlist", conn.protocol)
	}
	if _, ok := conn.codec.(muxproto.PlistCodec); !ok {
		t.Fatalf("codec = %T, want PlistCodec", conn.codec)
	}
	if conn.state != stateListening {
		t.Fatalf("state = %v, want stateListening", conn.state)
	}
}

// TestConnectSwapsPortOnce verifies Connect applies the port byte swap
// exactly once (spec.md §9 design note) and transitions the connection into
// Connected state on a successful reply.
func TestConnectSwapsPortOnce(t *testing.T) {
	conn, daemon := newTestConnection(t, muxproto.PlistCodec{}, ProtocolPlist)

	var gotPort int64
	go func() {
		req, err := muxproto.PlistCodec{}.Recv(daemon)
		if err != nil {
			return
		}
		gotPort, _ = req.Body["PortNumber"].(int64)
		muxproto.PlistCodec{}.Send(daemon, req.Tag, muxproto.TypeResult, plist.Dict{"Number": int64(0)})
	}()

	if _, err := conn.Connect(18, 62078); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// 62078 = 0xF27E; byte-swapped (as a 16-bit value) = 0x7EF2 = 32498.
	if gotPort != 0x7EF2 {
		t.Fatalf("port on the wire = %#x, want 0x7ef2", gotPort)
	}
	if conn.state != stateConnected {
		t.Fatalf("state = %v, want stateConnected", conn.state)
	}
}

// TestProcessFailsOnceConnected is spec.md §8 invariant 3.
func TestProcessFailsOnceConnected(t *testing.T) {
	conn, _ := newTestConnection(t, muxproto.PlistCodec{}, ProtocolPlist)
	conn.state = stateConnected

	if err := conn.Process(10 * time.Millisecond); err == nil {
		t.Fatal("expected Process to fail once the connection is Connected")
	}
}

// TestExchangeDetectsTagMismatch is spec.md §8 invariant 2.
func TestExchangeDetectsTagMismatch(t *testing.T) {
	conn, daemon := newTestConnection(t, muxproto.PlistCodec{}, ProtocolPlist)

	go func() {
		req, err := muxproto.PlistCodec{}.Recv(daemon)
		if err != nil {
			return
		}
		muxproto.PlistCodec{}.Send(daemon, req.Tag+1, muxproto.TypeResult, plist.Dict{"Number": int64(0)})
	}()

	if err := conn.sendListen(); err == nil {
		t.Fatal("expected a tag mismatch error")
	}
}
