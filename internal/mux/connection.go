// Package mux implements the mux daemon connection (spec.md §4.3,
// component C3) and the device registry it feeds (§4.4, component C4): a
// tagged request/reply client over internal/transport + internal/muxproto,
// with a Listening mode that watches for device attach/detach and a
// Connected mode that hands the raw socket to the lockdown layer.
package mux

import (
	"errors"
	"net"
	"time"

	"idevicekit/internal/ioserr"
	"idevicekit/internal/muxproto"
	"idevicekit/internal/plist"
	"idevicekit/internal/transport"
)

type connState int

const (
	stateFresh connState = iota
	stateControl
	stateListening
	stateConnected
	stateClosed
)

// Connection is a mux daemon client. Its state machine is
// Fresh -> Control -> {Listening | Connected | Closed}, per spec.md §4.3.
type Connection struct {
	sock       *transport.Socket
	codec      muxproto.Codec
	tag        uint32
	state      connState
	registry   *Registry
	socketPath string
	protocol   Protocol
}

// Listen opens a mux connection and puts it into Listening mode, trying the
// binary codec first and falling back to the plist codec if the daemon
// rejects binary framing with a version mismatch (spec.md §4.2
// "Version negotiation", §8 property 4).
func Listen(socketPath string) (*Connection, error) {
	conn, err := dial(socketPath, muxproto.BinaryCodec{}, ProtocolBinary)
	if err != nil {
		return nil, err
	}
	if err := conn.sendListen(); err == nil {
		conn.state = stateListening
		return conn, nil
	} else if !errors.Is(err, ioserr.ErrMuxVersion) {
		conn.sock.Close()
		return nil, err
	}
	conn.sock.Close()

	conn, err = dial(socketPath, muxproto.PlistCodec{}, ProtocolPlist)
	if err != nil {
		return nil, err
	}
	if err := conn.sendListen(); err != nil {
		conn.sock.Close()
		return nil, err
	}
	conn.state = stateListening
	return conn, nil
}

// Dial opens a fresh control-mode connection without sending Listen,
// for callers (e.g. lockdown's port-62078 dial) that only need Connect.
func Dial(socketPath string, protocol Protocol) (*Connection, error) {
	codec := muxproto.Codec(muxproto.BinaryCodec{})
	if protocol == ProtocolPlist {
		codec = muxproto.PlistCodec{}
	}
	return dial(socketPath, codec, protocol)
}

func dial(socketPath string, codec muxproto.Codec, protocol Protocol) (*Connection, error) {
	sock, err := transport.Dial(socketPath)
	if err != nil {
		return nil, err
	}
	return &Connection{
		sock:       sock,
		codec:      codec,
		tag:        0,
		state:      stateFresh,
		registry:   &Registry{},
		socketPath: socketPath,
		protocol:   protocol,
	}, nil
}

func (c *Connection) sendListen() error {
	_, err := c.exchange(muxproto.TypeListen, nil)
	return err
}

// Process performs one readiness wait with the given timeout and consumes
// at most one unsolicited packet (DeviceAdd/DeviceRemove) per call,
// returning without error if nothing arrived before the deadline. It is an
// error to call Process once the connection has entered Connected state
// (spec.md §4.3).
func (c *Connection) Process(timeout time.Duration) error {
	if c.state == stateConnected {
		return ioserr.Wrap(ioserr.ErrMux, "cannot process: connection is in Connected state")
	}

	ready, err := c.sock.Readable(timeout)
	if err != nil {
		c.state = stateClosed
		return err
	}
	if !ready {
		return nil
	}

	pkt, err := c.codec.Recv(c.sock)
	if err != nil {
		c.state = stateClosed
		return err
	}
	return c.dispatchUnsolicited(pkt)
}

func (c *Connection) dispatchUnsolicited(pkt muxproto.Packet) error {
	switch pkt.Type {
	case muxproto.TypeDeviceAdd:
		c.registry.add(deviceHandleFromPacket(pkt, c))
	case muxproto.TypeDeviceRemove:
		if id, ok := pkt.Body["DeviceID"].(int64); ok {
			c.registry.remove(uint32(id))
		}
	case muxproto.TypeResult:
		return ioserr.Wrap(ioserr.ErrMux, "unexpected Result packet outside a pending request")
	default:
		return ioserr.Wrapf(ioserr.ErrMux, "unexpected packet type %q", pkt.Type)
	}
	return nil
}

// exchange sends one tagged request and blocks until the matching Result
// reply arrives, queuing any DeviceAdd/DeviceRemove packets seen along the
// way into the registry (spec.md §4.3 "Request correlation").
func (c *Connection) exchange(msgType muxproto.MessageType, body plist.Dict) (plist.Dict, error) {
	if c.state == stateConnected {
		return nil, ioserr.Wrap(ioserr.ErrMux, "cannot send control packet: connection is Connected")
	}
	if body == nil {
		body = plist.Dict{}
	}
	c.tag++
	tag := c.tag

	if err := c.codec.Send(c.sock, tag, msgType, body); err != nil {
		c.state = stateClosed
		return nil, err
	}

	for {
		pkt, err := c.codec.Recv(c.sock)
		if err != nil {
			c.state = stateClosed
			return nil, err
		}
		switch pkt.Type {
		case muxproto.TypeDeviceAdd:
			c.registry.add(deviceHandleFromPacket(pkt, c))
			continue
		case muxproto.TypeDeviceRemove:
			if id, ok := pkt.Body["DeviceID"].(int64); ok {
				c.registry.remove(uint32(id))
			}
			continue
		case muxproto.TypeResult:
			if pkt.Tag != tag {
				c.state = stateClosed
				return nil, ioserr.Wrapf(ioserr.ErrMux, "reply tag mismatch: expected %d, got %d", tag, pkt.Tag)
			}
			return pkt.Body, nil
		default:
			c.state = stateClosed
			return nil, ioserr.Wrapf(ioserr.ErrMux, "unexpected packet type %q while awaiting reply", pkt.Type)
		}
	}
}

// Connect issues the Connect control packet and, on success, switches the
// connection into opaque Connected mode and returns the raw socket for the
// higher stack to speak its own protocol over (spec.md §4.3, §3 ownership
// note). The port is byte-swapped relative to host order before being
// handed to the codec, per spec.md §4.2/§9 (an undocumented historical
// quirk preserved rather than guessed away).
func (c *Connection) Connect(deviceID uint32, port uint16) (net.Conn, error) {
	swapped := (port << 8) | (port >> 8)
	reply, err := c.exchange(muxproto.TypeConnect, plist.Dict{
		"DeviceID":   int64(deviceID),
		"PortNumber": int64(swapped),
	})
	if err != nil {
		return nil, err
	}
	number, _ := reply["Number"].(int64)
	if number != 0 {
		return nil, ioserr.Wrapf(ioserr.ErrMux, "connect failed: error %d", number)
	}
	c.state = stateConnected
	return c.sock.Raw(), nil
}

// ReadPairRecord asks the mux daemon for a pair record by identifier
// (spec.md §4.5 step 1, iOS >= 13 path). Only the plist codec supports it.
func (c *Connection) ReadPairRecord(identifier string) (plist.Dict, error) {
	if c.protocol != ProtocolPlist {
		return nil, ioserr.Wrap(ioserr.ErrMux, "ReadPairRecord requires the plist codec")
	}
	reply, err := c.exchange(muxproto.TypeReadPairRecord, plist.Dict{"PairRecordID": identifier})
	if err != nil {
		return nil, err
	}
	raw, ok := reply["PairRecordData"].(plist.Data)
	if !ok {
		return nil, ioserr.Wrap(ioserr.ErrMux, "ReadPairRecord reply missing PairRecordData")
	}
	decoded, err := plist.Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	dict, _ := decoded.(plist.Dict)
	return dict, nil
}

// Devices returns a snapshot of devices seen so far on this connection.
func (c *Connection) Devices() []DeviceHandle {
	return c.registry.Snapshot()
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	c.state = stateClosed
	return c.sock.Close()
}

func deviceHandleFromPacket(pkt muxproto.Packet, c *Connection) DeviceHandle {
	devID, _ := pkt.Body["DeviceID"].(int64)
	props, _ := pkt.Body["Properties"].(plist.Dict)
	productID, _ := props["ProductID"].(int64)
	locationID, _ := props["LocationID"].(int64)

	var serial []byte
	switch s := props["SerialNumber"].(type) {
	case plist.Data:
		serial = []byte(s)
	case string:
		serial = []byte(s)
	}

	return DeviceHandle{
		DeviceID:   uint32(devID),
		ProductID:  uint16(productID),
		Serial:     serial,
		LocationID: uint32(locationID),
		protocol:   c.protocol,
		socketPath: c.socketPath,
	}
}
