package muxproto

import (
	"idevicekit/internal/ioserr"
	"idevicekit/internal/plist"
)

func versionMismatch(version uint32) error {
	return ioserr.Wrapf(ioserr.ErrMuxVersion, "expected plist version 1, got %d", version)
}

func nonPlistType(typ uint32) error {
	return ioserr.Wrapf(ioserr.ErrMux, "received non-plist outer type %d", typ)
}

const (
	plistWireType     = 8 // PLIST, per spec.md §4.2
	clientVersionName = "idevicekit"
	progName          = "idevicekit"
)

// PlistCodec is the v1 mux codec: every packet's payload is a serialized
// plist dictionary, tagged with a MessageType string under the
// "MessageType" key (spec.md §4.2, "Plist v1").
type PlistCodec struct{}

func (PlistCodec) Version() uint32 { return 1 }

func (PlistCodec) Send(w FrameWriter, tag uint32, msgType MessageType, body plist.Dict) error {
	out := plist.Dict{}
	for k, v := range body {
		out[k] = v
	}
	out["MessageType"] = string(msgType)
	out["ClientVersionString"] = clientVersionName
	out["ProgName"] = progName

	payload, err := plist.Marshal(out)
	if err != nil {
		return err
	}
	return writeEnvelope(w, PlistCodec{}.Version(), plistWireType, tag, payload)
}

func (PlistCodec) Recv(r FrameReader) (Packet, error) {
	version, typ, tag, payload, err := readEnvelope(r)
	if err != nil {
		return Packet{}, err
	}
	if version != 1 {
		return Packet{}, versionMismatch(version)
	}
	if typ != plistWireType {
		return Packet{}, nonPlistType(typ)
	}

	decoded, err := plist.Unmarshal(payload)
	if err != nil {
		return Packet{}, err
	}
	dict, _ := decoded.(plist.Dict)
	msgType, _ := dict["MessageType"].(string)
	return Packet{Type: MessageType(msgType), Tag: tag, Body: dict}, nil
}
