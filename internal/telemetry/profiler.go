// Package telemetry runs the sysmontap/graphics.opengl sampling loop
// against an instruments RPC session, grounded in original_source/core.py's
// SYSMON_CONFIG_MSG and Profiler class: it configures the sysmontap
// channel, registers callbacks for unsolicited samples, and tracks the
// latest CPU/memory/FPS reading for one target process.
package telemetry

import (
	"strconv"
	"sync"

	"idevicekit/internal/instruments"
	"idevicekit/internal/plist"
)

const (
	sysmontapChannel = "com.apple.instruments.server.services.sysmontap"
	openGLChannel    = "com.apple.instruments.server.services.graphics.opengl"
)

// sysmonConfig is the Go literal of core.py's SYSMON_CONFIG_MSG: the
// sampling rate, process/system attribute sets, and reporting interval
// sysmontap echoes back on every tick.
var sysmonConfig = map[string]any{
	"ur": int64(1000),
	"bm": int64(0),
	"procAttrs": []any{
		"memVirtualSize", "cpuUsage", "procStatus", "appSleep", "uid", "vmPageIns", "memRShrd",
		"ctxSwitch", "memCompressed", "intWakeups", "cpuTotalSystem", "responsiblePID", "physFootprint",
		"cpuTotalUser", "sysCallsUnix", "memResidentSize", "sysCallsMach", "memPurgeable",
		"diskBytesRead", "machPortCount", "__suddenTerm", "__arch", "memRPrvt", "msgSent", "ppid",
		"threadCount", "memAnon", "diskBytesWritten", "pgid", "faults", "msgRecv", "__restricted", "pid",
		"__sandbox",
	},
	"sysAttrs": []any{
		"diskWriteOps", "diskBytesRead", "diskBytesWritten", "threadCount", "vmCompressorPageCount",
		"vmExtPageCount", "vmFreeCount", "vmIntPageCount", "vmPurgeableCount", "netPacketsIn",
		"vmWireCount", "netBytesIn", "netPacketsOut", "diskReadOps", "vmUsedCount", "__vmSwapUsage",
		"netBytesOut",
	},
	"cpuUsage":      true,
	"sampleInterval": int64(1000000000),
}

// Sample is the latest reading tracked for one target process, the Go
// analog of core.py's Profiler instance fields.
type Sample struct {
	CPUUsage    float64
	PSSMemMB    float64
	VirtualMemGB float64
	FPS         float64
}

// Profiler tracks one target pid's CPU/mem from sysmontap ticks and the
// device-wide FPS from graphics.opengl ticks.
type Profiler struct {
	pid int64

	mu     sync.RWMutex
	sample Sample
}

// NewProfiler targets pid, the process whose row sysmontap's "Processes"
// map is searched for on every sample (core.py's on_sysmontap_message).
func NewProfiler(pid int64) *Profiler {
	return &Profiler{pid: pid}
}

// Snapshot returns the most recent reading.
func (p *Profiler) Snapshot() Sample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sample
}

// onSysmontapMessage mirrors core.py's Profiler.on_sysmontap_message: each
// tick is a list of dicts; the one holding "Processes" maps pid to a fixed-
// position array where index 0 is virtual size, 1 is CPU usage, and 12 is
// physical footprint.
func (p *Profiler) onSysmontapMessage(reply instruments.Reply) {
	rows, ok := reply.Parsed.([]any)
	if !ok {
		return
	}
	for _, row := range rows {
		dict, ok := row.(plist.Dict)
		if !ok {
			continue
		}
		procs, ok := dict["Processes"].(plist.Dict)
		if !ok {
			continue
		}
		info, ok := procs[formatPID(p.pid)].([]any)
		if !ok || len(info) < 13 {
			p.clearProcessMetrics()
			continue
		}
		p.mu.Lock()
		p.sample.VirtualMemGB = toFloat(info[0]) / 1024.0 / 1024.0 / 1024.0
		p.sample.CPUUsage = toFloat(info[1])
		p.sample.PSSMemMB = toFloat(info[12]) / 1024.0 / 1024.0
		p.mu.Unlock()
		return
	}
}

func (p *Profiler) clearProcessMetrics() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sample.CPUUsage = 0
	p.sample.PSSMemMB = 0
	p.sample.VirtualMemGB = 0
}

// onFPSMessage mirrors core.py's Profiler.on_fps_message.
func (p *Profiler) onFPSMessage(reply instruments.Reply) {
	dict, ok := reply.Parsed.(plist.Dict)
	if !ok {
		return
	}
	fps, ok := dict["CoreAnimationFramesPerSecond"]
	if !ok {
		return
	}
	p.mu.Lock()
	p.sample.FPS = toFloat(fps)
	p.mu.Unlock()
}

// Start wires both channels up on session and kicks off sampling, mirroring
// core.py's make_channel/start_channel pair for sysmontap and
// graphics.opengl.
func (p *Profiler) Start(session *instruments.Session) error {
	if _, err := session.MakeChannel(sysmontapChannel); err != nil {
		return err
	}
	if err := session.RegisterChannelCallback(sysmontapChannel, p.onSysmontapMessage); err != nil {
		return err
	}
	if _, err := session.CallNamed(sysmontapChannel, "setConfig:", sysmonConfig); err != nil {
		return err
	}
	if _, err := session.CallNamed(sysmontapChannel, "start"); err != nil {
		return err
	}

	if _, err := session.MakeChannel(openGLChannel); err != nil {
		return err
	}
	if err := session.RegisterChannelCallback(openGLChannel, p.onFPSMessage); err != nil {
		return err
	}
	_, err := session.CallNamed(openGLChannel, "startSamplingAtTimeInterval:", int64(10))
	return err
}

func formatPID(pid int64) string {
	return strconv.FormatInt(pid, 10)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}
