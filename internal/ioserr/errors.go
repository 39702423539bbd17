// Package ioserr defines the typed error kinds raised by the usbmux,
// lockdown and instruments layers. Callers use errors.Is against the
// sentinel Kind values; wrapped errors keep enough context (identifier,
// request name, remote error string) for logs.
package ioserr

import (
	"errors"
	"fmt"
)

// Kind is a sentinel identifying one of the error categories in the core
// protocol stack. Compare with errors.Is, not equality, since Kind values
// are always wrapped with request-specific context.
type Kind error

var (
	// ErrNoMuxDeviceFound is raised when a find-device polling window is
	// exhausted without a match.
	ErrNoMuxDeviceFound Kind = errors.New("usbmux: no matching device found")
	// ErrMuxVersion drives mux.Listen's binary-to-plist framing fallback;
	// Listen returns it only if the plist retry is refused the same way.
	ErrMuxVersion Kind = errors.New("usbmux: version mismatch")
	// ErrMux is a protocol-level framing or tag violation. Fatal for the
	// connection it occurred on.
	ErrMux Kind = errors.New("usbmux: protocol error")
	// ErrTransportBroken is raised on zero-progress send/recv.
	ErrTransportBroken Kind = errors.New("transport: connection broken")
	// ErrInitialization is raised on QueryType mismatch or a missing
	// udid/ECID identifier.
	ErrInitialization Kind = errors.New("lockdown: initialization failed")
	// ErrNotTrusted is raised when Pair returns PasswordProtected; the
	// caller should prompt the user to trust the host on the device.
	ErrNotTrusted Kind = errors.New("lockdown: device not trusted")
	// ErrPairing is raised on any other Pair error.
	ErrPairing Kind = errors.New("lockdown: pairing failed")
	// ErrFatalPairing is raised when full pairing succeeded but
	// validation still fails afterward.
	ErrFatalPairing Kind = errors.New("lockdown: pairing succeeded but validation failed")
	// ErrNotPaired is raised by StartService before pairing completed.
	ErrNotPaired Kind = errors.New("lockdown: not paired")
	// ErrStartService is raised when StartService fails for any reason
	// other than PasswordProtected.
	ErrStartService Kind = errors.New("lockdown: start service failed")
	// ErrDeviceLocked is raised when StartService fails because the
	// device needs to be unlocked first.
	ErrDeviceLocked Kind = errors.New("lockdown: device must be unlocked")
	// ErrCannotStopSession is raised when StopSession does not return
	// Result=Success.
	ErrCannotStopSession Kind = errors.New("lockdown: could not stop session")
	// ErrSessionClosed is delivered to any call pending when an
	// instruments RPC session is torn down.
	ErrSessionClosed Kind = errors.New("instruments: session closed")
)

// Wrap attaches request-specific context to a sentinel Kind, preserving it
// for errors.Is.
func Wrap(kind Kind, context string) error {
	return fmt.Errorf("%s: %w", context, kind)
}

// Wrapf is Wrap with a formatted context string.
func Wrapf(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}
