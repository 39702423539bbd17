// Package lockdown implements the lockdown plist RPC client (spec.md §4.5,
// component C5): query-type verification, the pairing pipeline over
// on-disk/mux-daemon/cache pair records, session establishment with an
// optional in-place TLS upgrade, and get/set value and service-start
// requests — grounded in util/lockdown.py's LockdownClient.
package lockdown

import (
	"os"
	"path/filepath"
	"strings"

	"idevicekit/internal/config"
	"idevicekit/internal/ioserr"
	"idevicekit/internal/mux"
	"idevicekit/internal/pairstore"
	"idevicekit/internal/plist"
	"idevicekit/internal/transport"
)

const label = "idevicekit"

// Service is a connected, possibly TLS-upgraded service socket returned by
// StartService, ready for a higher-level client (internal/instruments) to
// speak its own framing over (spec.md §4.5).
type Service struct {
	Socket *transport.Socket
	Name   string
}

// Client is a paired (or attempting-to-pair) lockdown session. It owns its
// plistStream exclusively, per spec.md §3.
type Client struct {
	cfg        *config.HostConfig
	store      *pairstore.Store
	socketPath string
	protocol   mux.Protocol
	deviceID   uint32

	svc        *plistStream
	record     plist.Dict
	deviceInfo plist.Dict
	hostID     string
	sessionID  string
	sslFile    string
	paired     bool
}

// Open connects to port 62078 on the given device, verifies the lockdown
// service, and runs the pairing pipeline (spec.md §4.5).
func Open(cfg *config.HostConfig, handle mux.DeviceHandle, socketPath string, protocol mux.Protocol) (*Client, error) {
	svc, err := dialPlistStream(socketPath, protocol, handle.DeviceID, plistPort)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		store:      pairstore.New(cfg),
		socketPath: socketPath,
		protocol:   protocol,
		deviceID:   handle.DeviceID,
		svc:        svc,
		hostID:     cfg.HostID,
	}

	if err := c.verifyQueryType(); err != nil {
		c.svc.close()
		return nil, err
	}

	value, err := c.getValueUncachedKey("", "")
	if err != nil {
		c.svc.close()
		return nil, err
	}
	info, _ := value.(plist.Dict)
	c.deviceInfo = info

	if err := c.pair(); err != nil {
		c.svc.close()
		return nil, err
	}
	return c, nil
}

func (c *Client) verifyQueryType() error {
	resp, err := c.svc.request(plist.Dict{"Request": "QueryType"})
	if err != nil {
		return err
	}
	if t, _ := resp["Type"].(string); t != "com.apple.mobile.lockdown" {
		return ioserr.Wrapf(ioserr.ErrInitialization, "unexpected lockdown service type %q", resp["Type"])
	}
	return nil
}

// udid returns the device's UDID as reported in device_info, if present.
func (c *Client) udid() string {
	v, _ := c.deviceInfo["UniqueDeviceID"].(string)
	return v
}

// identifier is the UDID, or else the lowercase-hex UniqueChipID. It fails
// initialization if neither is present (spec.md §4.5).
func (c *Client) identifier() (string, error) {
	if udid := c.udid(); udid != "" {
		return udid, nil
	}
	if ecid, ok := c.deviceInfo["UniqueChipID"].(int64); ok {
		return strings.ToLower(hexString(uint64(ecid))), nil
	}
	return "", ioserr.Wrap(ioserr.ErrInitialization, "unable to determine UDID or ECID")
}

func hexString(v uint64) string {
	const hexDigits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = hexDigits[v&0xF]
		v >>= 4
	}
	return string(buf[i:])
}

// iosVersionAtLeast compares ProductVersion (a dotted version string) to a
// dotted minimum, matching the LooseVersion comparisons in util/lockdown.py
// (ValidatePair only below 11.0, ReadPairRecord fallback only at/above
// 13.0). Missing/unparseable versions compare as "below everything".
func (c *Client) iosVersionAtLeast(min string) bool {
	version, _ := c.deviceInfo["ProductVersion"].(string)
	return compareVersions(version, min) >= 0
}

func compareVersions(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = parseVersionSegment(as[i])
		}
		if i < len(bs) {
			bv = parseVersionSegment(bs[i])
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func parseVersionSegment(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// pair implements LockdownClient._pair: validate an existing record, or
// else perform full pairing and reopen the connection and retry once.
func (c *Client) pair() error {
	ok, err := c.validatePairing()
	if err != nil {
		return err
	}
	if ok {
		c.paired = true
		return nil
	}

	if err := c.pairFull(); err != nil {
		return err
	}

	if err := c.svc.close(); err != nil {
		return err
	}
	svc, err := dialPlistStream(c.socketPath, c.protocol, c.deviceID, plistPort)
	if err != nil {
		return err
	}
	c.svc = svc

	ok, err = c.validatePairing()
	if err != nil {
		return err
	}
	if !ok {
		return ioserr.Wrap(ioserr.ErrFatalPairing, "pair record still invalid after full pairing")
	}
	c.paired = true
	return nil
}

// validatePairing mirrors LockdownClient._validate_pairing.
func (c *Client) validatePairing() (bool, error) {
	record, err := locatePairRecord(c)
	if err != nil {
		return false, err
	}
	if record == nil {
		return false, nil
	}
	c.record = record

	if !c.iosVersionAtLeast("11.0") {
		resp, err := c.svc.request(plist.Dict{
			"Request": "ValidatePair", "Label": label, "PairRecord": record,
		})
		if err != nil {
			return false, err
		}
		if _, hasErr := resp["Error"]; hasErr {
			return false, nil
		}
	}

	if hid, ok := record["HostID"].(string); ok && hid != "" {
		c.hostID = hid
	}
	systemBUID, _ := record["SystemBUID"].(string)
	if systemBUID == "" {
		systemBUID = c.cfg.SystemBUID
	}

	resp, err := c.svc.request(plist.Dict{
		"Request": "StartSession", "Label": label,
		"HostID": c.hostID, "SystemBUID": systemBUID,
	})
	if err != nil {
		return false, err
	}
	if sid, ok := resp["SessionID"].(string); ok {
		c.sessionID = sid
	}
	if enable, _ := resp["EnableSessionSSL"].(bool); enable {
		hostCert, _ := record["HostCertificate"].(plist.Data)
		hostKey, _ := record["HostPrivateKey"].(plist.Data)
		id, err := c.identifier()
		if err != nil {
			return false, err
		}
		blob := append(append([]byte{}, hostCert...), append([]byte("\n"), hostKey...)...)
		path, err := c.writeSSLFile(id, blob)
		if err != nil {
			return false, err
		}
		c.sslFile = path
		if err := c.svc.sslStart(path, path); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (c *Client) writeSSLFile(identifier string, data []byte) (string, error) {
	path := filepath.Join(c.cfg.CacheDir, identifier+"_ssl.txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// pairFull mirrors LockdownClient._pair_full.
func (c *Client) pairFull() error {
	devicePubKey, err := c.getValueUncachedKey("", "DevicePublicKey")
	if err != nil {
		return err
	}
	raw, ok := devicePubKey.(plist.Data)
	if !ok || len(raw) == 0 {
		return ioserr.Wrap(ioserr.ErrPairing, "unable to retrieve DevicePublicKey")
	}

	hostCertPEM, hostKeyPEM, deviceCertPEM, err := makeCertsAndKey([]byte(raw))
	if err != nil {
		return err
	}

	record := plist.Dict{
		"DevicePublicKey":   raw,
		"DeviceCertificate": plist.Data(deviceCertPEM),
		"HostCertificate":   plist.Data(hostCertPEM),
		"HostID":            c.hostID,
		"RootCertificate":   plist.Data(hostCertPEM),
		"SystemBUID":        c.cfg.SystemBUID,
	}

	resp, err := c.svc.request(plist.Dict{
		"Label": label, "Request": "Pair", "PairRecord": record,
	})
	if err != nil {
		return err
	}

	_, hasEscrow := resp["EscrowBag"]
	if result, _ := resp["Result"].(string); result == "Success" || hasEscrow {
		record["HostPrivateKey"] = plist.Data(hostKeyPEM)
		record["EscrowBag"] = resp["EscrowBag"]

		id, err := c.identifier()
		if err != nil {
			return err
		}
		data, err := plist.Marshal(record)
		if err != nil {
			return err
		}
		return c.store.WriteCache(id, data)
	}

	if errStr, _ := resp["Error"].(string); errStr == "PasswordProtected" {
		return ioserr.Wrap(ioserr.ErrNotTrusted, "device declined pairing: password protected")
	}
	return ioserr.Wrapf(ioserr.ErrPairing, "pairing failed: %v", resp["Error"])
}

// GetValue returns a lockdown domain/key value, preferring the pair
// record's own copy when present (spec.md §4.5 "get_value").
func (c *Client) GetValue(domain, key string) (any, error) {
	if key != "" && c.record != nil {
		if v, ok := c.record[key]; ok {
			return v, nil
		}
	}
	return c.getValueUncachedKey(domain, key)
}

func (c *Client) getValueUncached(domain, key string) (plist.Dict, error) {
	req := plist.Dict{"Request": "GetValue", "Label": label}
	if domain != "" {
		req["Domain"] = domain
	}
	if key != "" {
		req["Key"] = key
	}
	return c.svc.request(req)
}

func (c *Client) getValueUncachedKey(domain, key string) (any, error) {
	resp, err := c.getValueUncached(domain, key)
	if err != nil {
		return nil, err
	}
	return resp["Value"], nil
}

// SetValue runs the SetValue request and returns the raw reply.
func (c *Client) SetValue(domain, key string, value any) (plist.Dict, error) {
	req := plist.Dict{"Request": "SetValue", "Label": label, "Value": value}
	if domain != "" {
		req["Domain"] = domain
	}
	if key != "" {
		req["Key"] = key
	}
	return c.svc.request(req)
}

// StartService requests a named lockdown service and returns a connected,
// possibly TLS-upgraded service socket (spec.md §4.5 "start_service").
func (c *Client) StartService(name string, useRecordEscrowBag bool) (*Service, error) {
	if !c.paired {
		return nil, ioserr.Wrapf(ioserr.ErrNotPaired, "unable to start service %q: not paired", name)
	}
	if name == "" {
		return nil, ioserr.Wrap(ioserr.ErrStartService, "service name must not be empty")
	}

	req := plist.Dict{"Request": "StartService", "Label": label, "Service": name}
	if useRecordEscrowBag && c.record != nil {
		req["EscrowBag"] = c.record["EscrowBag"]
	}

	resp, err := c.svc.request(req)
	if err != nil {
		return nil, err
	}
	if errStr, hasErr := resp["Error"].(string); hasErr {
		if errStr == "PasswordProtected" {
			return nil, ioserr.Wrapf(ioserr.ErrDeviceLocked, "unable to start service %q: device must be unlocked", name)
		}
		return nil, ioserr.Wrapf(ioserr.ErrStartService, "unable to start service %q: %s", name, errStr)
	}

	port, _ := resp["Port"].(int64)
	if port == 0 {
		return nil, ioserr.Wrapf(ioserr.ErrStartService, "unable to start service %q: no port in reply", name)
	}

	tlsCertPath, tlsKeyPath := "", ""
	if enable, _ := resp["EnableServiceSSL"].(bool); enable {
		if c.sslFile == "" {
			hostCert, _ := c.record["HostCertificate"].(plist.Data)
			hostKey, _ := c.record["HostPrivateKey"].(plist.Data)
			id, err := c.identifier()
			if err != nil {
				return nil, err
			}
			blob := append(append([]byte{}, hostCert...), append([]byte("\n"), hostKey...)...)
			path, err := c.writeSSLFile(id, blob)
			if err != nil {
				return nil, err
			}
			c.sslFile = path
		}
		tlsCertPath, tlsKeyPath = c.sslFile, c.sslFile
	}

	sock, err := DialServiceSocket(c.socketPath, c.protocol, c.deviceID, uint16(port), tlsCertPath, tlsKeyPath)
	if err != nil {
		return nil, err
	}
	return &Service{Socket: sock, Name: name}, nil
}

// StopSession ends the active lockdown session, per spec.md §4.5
// "stop_session".
func (c *Client) StopSession() error {
	if c.sessionID == "" {
		return nil
	}
	resp, err := c.svc.request(plist.Dict{
		"Request": "StopSession", "Label": label, "SessionID": c.sessionID,
	})
	c.sessionID = ""
	if err != nil {
		return err
	}
	if result, _ := resp["Result"].(string); result != "Success" {
		return ioserr.Wrapf(ioserr.ErrCannotStopSession, "stop session failed: %v", resp)
	}
	return nil
}

// Close tears down the underlying plist stream.
func (c *Client) Close() error {
	return c.svc.close()
}
