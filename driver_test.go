package idevicekit

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"idevicekit/internal/config"
	"idevicekit/internal/muxproto"
	"idevicekit/internal/plist"
	"idevicekit/internal/transport"
)

// fakeMuxDaemon refuses the client's first (binary) Listen with a
// plist-framed reply, then accepts the plist Listen on a second connection,
// streams the given device-add/remove events and keeps that connection open
// until the client closes it, mirroring usbmuxd's own unsolicited-event wire
// behavior closely enough to exercise ListDevices/FindDevice end to end.
func fakeMuxDaemon(t *testing.T, events []muxproto.Packet) string {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), "usbmuxd.sock")
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		first, err := ln.Accept()
		if err != nil {
			return
		}
		firstSock := transport.DialConn(first)
		if header, err := firstSock.RecvExact(16); err == nil {
			muxproto.PlistCodec{}.Send(firstSock, binary.LittleEndian.Uint32(header[12:16]), muxproto.TypeResult, plist.Dict{"Number": int64(0)})
		}
		first.Close()

		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sock := transport.DialConn(conn)

		req, err := muxproto.PlistCodec{}.Recv(sock)
		if err != nil {
			return
		}
		muxproto.PlistCodec{}.Send(sock, req.Tag, muxproto.TypeResult, plist.Dict{"Number": int64(0)})
		for _, pkt := range events {
			muxproto.PlistCodec{}.Send(sock, 0, pkt.Type, pkt.Body)
		}
		sock.RecvExact(1)
	}()

	return socketPath
}

func deviceAddEvent(deviceID int64, serial string) muxproto.Packet {
	return muxproto.Packet{
		Type: muxproto.TypeDeviceAdd,
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

func TestListDevicesReturnsAddedDevices(t *testing.T) {
	socketPath := fakeMuxDaemon(t, []muxproto.Packet{
		deviceAddEvent(11, "device-one"),
		deviceAddEvent(12, "device-two"),
	})
	cfg := &config.HostConfig{SocketPath: socketPath}

	devices, err := ListDevices(cfg)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2: %+v", len(devices), devices)
	}
}

func TestFindDeviceMatchesBySerial(t *testing.T) {
	socketPath := fakeMuxDaemon(t, []muxproto.Packet{
		deviceAddEvent(11, "device-one"),
		deviceAddEvent(12, "device-two"),
	})
	cfg := &config.HostConfig{SocketPath: socketPath}

	handle, err := FindDevice(cfg, "device-two", 200*time.Millisecond, 5)
	if err != nil {
		t.Fatalf("FindDevice: %v", err)
	}
	if handle.SerialString() != "device-two" {
		t.Fatalf("matched %q, want device-two", handle.SerialString())
	}
}

func TestFindDeviceFailsWhenNoMatch(t *testing.T) {
	socketPath := fakeMuxDaemon(t, []muxproto.Packet{
		deviceAddEvent(11, "device-one"),
	})
	cfg := &config.HostConfig{SocketPath: socketPath}

	if _, err := FindDevice(cfg, "not-present", 50*time.Millisecond, 3); err == nil {
		t.Fatal("expected an error when no device matches the requested serial")
	}
}
