package mux

import (
	"sync"
	"time"

	"idevicekit/internal/ioserr"
)

// Registry keeps the current set of attached devices observed on a
// listener connection (spec.md §4.4, component C4).
type Registry struct {
	mu      sync.Mutex
	devices []DeviceHandle
}

func (r *Registry) add(h DeviceHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices = append(r.devices, h)
}

func (r *Registry) remove(deviceID uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.devices[:0]
	for _, d := range r.devices {
		if d.DeviceID != deviceID {
			out = append(out, d)
		}
	}
	r.devices = out
}

// Snapshot returns the current device list. The slice is a copy; callers
// may not mutate the registry through it.
func (r *Registry) Snapshot() []DeviceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DeviceHandle, len(r.devices))
	copy(out, r.devices)
	return out
}

// FindDevice loops at most maxAttempts times, each invoking conn.Process
// with the given timeout and then scanning the current device list. If
// serial is non-empty it is matched against both the raw byte-string and
// the textual encoding stored in DeviceHandle.Serial; if empty, the first
// device wins. Exhaustion raises ErrNoMuxDeviceFound (spec.md §4.4).
func FindDevice(conn *Connection, serial string, timeout time.Duration, maxAttempts int) (DeviceHandle, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := conn.Process(timeout); err != nil {
			return DeviceHandle{}, err
		}
		devices := conn.registry.Snapshot()
		if serial == "" {
			if len(devices) > 0 {
				return devices[0], nil
			}
			continue
		}
		for _, d := range devices {
			if d.SerialString() == serial || string(d.Serial) == serial {
				return d, nil
			}
		}
	}
	if serial != "" {
		return DeviceHandle{}, ioserr.Wrapf(ioserr.ErrNoMuxDeviceFound, "no device with serial %q after %d attempts", serial, maxAttempts)
	}
	return DeviceHandle{}, ioserr.Wrapf(ioserr.ErrNoMuxDeviceFound, "no device found after %d attempts", maxAttempts)
}
