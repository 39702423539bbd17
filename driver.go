// Package idevicekit is the root package: it exposes the small driver
// surface spec.md §6 names as what external CLIs/tests call into
// (ListDevices, DeviceInfo, StartLockdown, StartService, RPCFromService),
// wiring components C1–C8 together without those packages needing to know
// about each other beyond their direct dependency edges.
package idevicekit

import (
	"time"

	"idevicekit/internal/config"
	"idevicekit/internal/instruments"
	"idevicekit/internal/lockdown"
	"idevicekit/internal/mux"
	"idevicekit/internal/plist"
	"idevicekit/pkg/archiver"
)

// listenTimeout bounds each Process poll while collecting DeviceAdd/Remove
// events; pollAttempts bounds how many polls ListDevices waits through.
const (
	listenTimeout = 200 * time.Millisecond
	pollAttempts  = 5
)

// ListDevices opens a fresh listener connection, drains pending
// DeviceAdd/DeviceRemove notifications for a short window, and returns the
// resulting snapshot (spec.md §6 "list_devices").
func ListDevices(cfg *config.HostConfig) ([]mux.DeviceHandle, error) {
	conn, err := mux.Listen(cfg.SocketPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	for attempt := 0; attempt < pollAttempts; attempt++ {
		if err := conn.Process(listenTimeout); err != nil {
			return nil, err
		}
	}
	return conn.Devices(), nil
}

// FindDevice polls until a device matching serial (or the first device, if
// serial is empty) appears, or the attempt budget is exhausted.
func FindDevice(cfg *config.HostConfig, serial string, timeout time.Duration, maxAttempts int) (mux.DeviceHandle, error) {
	conn, err := mux.Listen(cfg.SocketPath)
	if err != nil {
		return mux.DeviceHandle{}, err
	}
	defer conn.Close()
	return mux.FindDevice(conn, serial, timeout, maxAttempts)
}

// DeviceInfo returns the device's full lockdown device_info dictionary,
// pairing first if necessary (spec.md §6 "device_info").
func DeviceInfo(cfg *config.HostConfig, handle mux.DeviceHandle) (plist.Dict, error) {
	session, err := StartLockdown(cfg, handle)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	value, err := session.GetValue("", "")
	if err != nil {
		return nil, err
	}
	dict, _ := value.(plist.Dict)
	return dict, nil
}

// StartLockdown opens and pairs a lockdown client against handle (spec.md
// §6 "start_lockdown"). Callers own the returned session and must Close it.
func StartLockdown(cfg *config.HostConfig, handle mux.DeviceHandle) (*lockdown.Client, error) {
	return lockdown.Open(cfg, handle, cfg.SocketPath, mux.ProtocolPlist)
}

// StartService starts the named lockdown service and returns the raw
// stream socket it announced, TLS-upgraded in place when the device asked
// for it (spec.md §6 "start_service").
func StartService(session *lockdown.Client, name string, useEscrowBag bool) (*lockdown.Service, error) {
	return session.StartService(name, useEscrowBag)
}

// RPCFromService wraps a started service stream in an instruments RPC
// session using codec (nil selects the default plist archiver) and starts
// its receiver goroutine (spec.md §6 "rpc_from_service").
func RPCFromService(service *lockdown.Service, codec archiver.Codec) *instruments.Session {
	session := instruments.New(service, codec)
	session.Start()
	return session
}
