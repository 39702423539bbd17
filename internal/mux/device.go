package mux

// Protocol identifies which muxproto.Codec a DeviceHandle was discovered
// under, so a later caller can reopen a connection to the same daemon using
// the same framing (spec.md §3, DeviceHandle).
type Protocol int

const (
	ProtocolBinary Protocol = iota
	ProtocolPlist
)

// DeviceHandle identifies one attached device. It is created on a
// DeviceAdd event and removed on DeviceRemove; it is never mutated in
// place (spec.md §3).
type DeviceHandle struct {
	DeviceID   uint32
	ProductID  uint16
	Serial     []byte
	LocationID uint32

	protocol   Protocol
	socketPath string
}

// SerialString is the serial as text, for callers that don't want to deal
// with the byte-string/text distinction find_device tolerates (spec.md
// §4.4).
func (d DeviceHandle) SerialString() string {
	return string(d.Serial)
}
