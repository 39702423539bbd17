package lockdown

import (
	"encoding/binary"

	"idevicekit/internal/ioserr"
	"idevicekit/internal/mux"
	"idevicekit/internal/plist"
	"idevicekit/internal/transport"
)

// plistPort is the well-known lockdownd service port (spec.md §4.5).
const plistPort = 62078

// plistStream is a lockdownd-style plist request/response stream: every
// message is a 4-byte big-endian length prefix followed by that many bytes
// of serialized plist, with no outer mux envelope — lockdownd's own wire
// format, distinct from the mux daemon framing in internal/muxproto. It is
// exclusively owned by one LockdownSession (spec.md §3).
type plistStream struct {
	sock *transport.Socket
}

// dialPlistStream opens a fresh mux connection, connects it to the given
// device on the given port, and wraps the resulting opaque socket.
func dialPlistStream(socketPath string, protocol mux.Protocol, deviceID uint32, port uint16) (*plistStream, error) {
	conn, err := mux.Dial(socketPath, protocol)
	if err != nil {
		return nil, err
	}
	raw, err := conn.Connect(deviceID, port)
	if err != nil {
		return nil, err
	}
	return &plistStream{sock: transport.DialConn(raw)}, nil
}

func (p *plistStream) request(req plist.Dict) (plist.Dict, error) {
	payload, err := plist.Marshal(req)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))
	if err := p.sock.SendAll(append(header, payload...)); err != nil {
		return nil, err
	}

	lenBuf, err := p.sock.RecvExact(4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	body, err := p.sock.RecvExact(int(n))
	if err != nil {
		return nil, err
	}
	decoded, err := plist.Unmarshal(body)
	if err != nil {
		return nil, err
	}
	dict, ok := decoded.(plist.Dict)
	if !ok {
		return nil, ioserr.Wrap(ioserr.ErrMux, "lockdown reply was not a dictionary")
	}
	return dict, nil
}

func (p *plistStream) sslStart(certPath, keyPath string) error {
	return p.sock.SSLStart(certPath, keyPath)
}

func (p *plistStream) close() error {
	return p.sock.Close()
}

// DialServiceSocket opens a fresh mux connection to the given device/port
// and returns the bare framed socket, for a caller (internal/instruments)
// that speaks its own fragment framing rather than lockdownd's
// length-prefixed plist request/response shape. TLS is upgraded in place
// when the StartService reply set EnableServiceSSL (spec.md §4.5
// "start_service").
func DialServiceSocket(socketPath string, protocol mux.Protocol, deviceID uint32, port uint16, tlsCertPath, tlsKeyPath string) (*transport.Socket, error) {
	conn, err := mux.Dial(socketPath, protocol)
	if err != nil {
		return nil, err
	}
	raw, err := conn.Connect(deviceID, port)
	if err != nil {
		return nil, err
	}
	sock := transport.DialConn(raw)
	if tlsCertPath != "" {
		if err := sock.SSLStart(tlsCertPath, tlsKeyPath); err != nil {
			return nil, err
		}
	}
	return sock, nil
}
