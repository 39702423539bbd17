// Package transport implements the reliable framed stream socket (spec.md
// §4.1, component C1) that every layer above it is built on: send_all /
// recv_exact over a platform stream socket, with an in-place TLS upgrade of
// the same descriptor. This is the lowest layer of the protocol stack; it
// knows nothing about mux packets, lockdown, or instruments framing.
package transport

import (
	"bufio"
	"crypto/tls"
	"net"
	"runtime"
	"time"

	"idevicekit/internal/ioserr"
)

// DefaultSocketPath is the usbmuxd Unix-domain socket path on POSIX hosts.
const DefaultSocketPath = "/var/run/usbmuxd"

// DefaultWindowsAddr is the loopback TCP address usbmuxd listens on under
// Windows and Cygwin.
const DefaultWindowsAddr = "127.0.0.1:27015"

// Socket is a framed stream socket: reliable whole-buffer send/recv plus an
// optional in-place TLS upgrade, matching spec.md §4.1 exactly. It is not
// safe for concurrent reads, nor for concurrent writes; callers above (e.g.
// the instruments RPC write mutex, spec.md §5) serialize their own access.
type Socket struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial opens a stream connection to the mux daemon, choosing the Unix-domain
// path on POSIX and the loopback TCP address on Windows/Cygwin, per spec.md
// §4.1 and §6. socketPath is ignored on Windows.
func Dial(socketPath string) (*Socket, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	network, address := "unix", socketPath
	if runtime.GOOS == "windows" {
		network, address = "tcp", DefaultWindowsAddr
	}
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, ioserr.Wrapf(ioserr.ErrTransportBroken, "dial %s", address)
	}
	return &Socket{conn: conn, r: bufio.NewReader(conn)}, nil
}

// DialConn wraps an already-established net.Conn (used by the mux connect
// path once the daemon has handed back a live TCP-like socket, and by
// tests against an in-memory net.Pipe).
func DialConn(conn net.Conn) *Socket {
	return &Socket{conn: conn, r: bufio.NewReader(conn)}
}

// SendAll writes every byte of buf, retrying short writes until the peer
// accepts all of it. A write that makes zero progress means the connection
// is broken.
func (s *Socket) SendAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := s.conn.Write(buf)
		if err != nil {
			return ioserr.Wrap(ioserr.ErrTransportBroken, "send")
		}
		if n == 0 {
			return ioserr.Wrap(ioserr.ErrTransportBroken, "send made zero progress")
		}
		buf = buf[n:]
	}
	return nil
}

// RecvExact reads until exactly n bytes have been accumulated. A read that
// returns zero bytes with no error (or returns io.EOF before n bytes have
// arrived) means the peer closed the connection.
func (s *Socket) RecvExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := s.r.Read(buf[read:])
		if m == 0 || err != nil {
			return nil, ioserr.Wrap(ioserr.ErrTransportBroken, "recv")
		}
		read += m
	}
	return buf, nil
}

// Readable reports whether at least one byte can be read without blocking
// past the given timeout, without consuming it — used by the mux listener's
// Process loop (spec.md §4.3) to poll for an unsolicited packet. A timeout
// with nothing available is reported as (false, nil), not an error.
func (s *Socket) Readable(timeout time.Duration) (bool, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, ioserr.Wrap(ioserr.ErrTransportBroken, "set read deadline")
	}
	defer s.conn.SetReadDeadline(time.Time{})

	_, err := s.r.Peek(1)
	if err == nil {
		return true, nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return false, nil
	}
	return false, ioserr.Wrap(ioserr.ErrTransportBroken, "poll")
}

// SSLStart performs an in-place TLS client handshake over the same
// descriptor, presenting certPath/keyPath as the client certificate (the
// lockdown session's host cert/key pair, spec.md §4.5 step 2). After it
// returns, SendAll/RecvExact transparently use the TLS session. The device's
// certificate is not verified (InsecureSkipVerify); callers that need
// verification can build a *tls.Config directly and call SSLStartConfig.
func (s *Socket) SSLStart(certPath, keyPath string) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return ioserr.Wrapf(ioserr.ErrTransportBroken, "load TLS identity: %v", err)
	}
	return s.SSLStartConfig(&tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
	})
}

// SSLStartConfig is SSLStart with a caller-supplied *tls.Config, for callers
// that already have an in-memory certificate (e.g. tests) instead of files
// on disk.
func (s *Socket) SSLStartConfig(cfg *tls.Config) error {
	tlsConn := tls.Client(s.conn, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return ioserr.Wrapf(ioserr.ErrTransportBroken, "TLS handshake: %v", err)
	}
	s.conn = tlsConn
	s.r = bufio.NewReader(tlsConn)
	return nil
}

// Raw returns the underlying net.Conn, for the mux "Connected" state
// handoff where the higher stack takes over opaque byte forwarding
// (spec.md §3, MuxConnection ownership note).
func (s *Socket) Raw() net.Conn {
	return s.conn
}

// Close closes the underlying connection.
func (s *Socket) Close() error {
	return s.conn.Close()
}
